package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// ImageHash は画像バイナリの SHA-256 を16進文字列で返します。
// キャプションのキャッシュキーや応答の image_hash に使います。
func ImageHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ShortHash はログ出力向けに ImageHash の先頭12文字を返します。
func ShortHash(data []byte) string {
	return ImageHash(data)[:12]
}
