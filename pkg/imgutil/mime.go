package imgutil

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DetectMediaType はバイナリの先頭からMIMEタイプを判定します。
// パラメータ（"; charset=..." など）は取り除いて返します。
func DetectMediaType(data []byte) string {
	mt := mimetype.Detect(data).String()
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	return mt
}

// ExtensionFor はMIMEタイプに対応する拡張子（ドット付き）を返します。
// 未知のタイプでは空文字を返します。
func ExtensionFor(mediaType string) string {
	if m := mimetype.Lookup(mediaType); m != nil {
		return m.Extension()
	}
	return ""
}
