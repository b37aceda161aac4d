package domain

import (
	"strings"
	"time"
)

// SourceKind は画像がどの経路で持ち込まれたかを表します。
type SourceKind int

const (
	// SourcePicker はファイル選択ダイアログ経由です。accept フィルタを信頼するため種別チェックは行いません。
	SourcePicker SourceKind = iota
	// SourceDrop はドラッグ＆ドロップ経由です。宣言された MIME タイプが image/ で始まるもののみ受け付けます。
	SourceDrop
)

func (k SourceKind) String() string {
	switch k {
	case SourcePicker:
		return "picker"
	case SourceDrop:
		return "drop"
	default:
		return "unknown"
	}
}

// ParseSourceKind は文字列表現から SourceKind を取得します。
func ParseSourceKind(s string) (SourceKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "picker", "":
		return SourcePicker, true
	case "drop":
		return SourceDrop, true
	default:
		return SourcePicker, false
	}
}

// Blob は選択された1枚の画像のバイナリと、入力元が宣言したメタデータです。
type Blob struct {
	Name      string // 元のファイル名（不明なら空）
	MediaType string // 入力元が宣言した MIME タイプ
	Data      []byte
}

// IsImage は宣言された MIME タイプが画像ファミリーかどうかを返します。
func (b Blob) IsImage() bool {
	return strings.HasPrefix(strings.ToLower(b.MediaType), "image/")
}

// Empty はバイナリを持たない Blob かどうかを返します。
func (b Blob) Empty() bool {
	return len(b.Data) == 0
}

// CaptionResult はキャプション生成サービスの応答です。
// Caption 以外はサービスが返した場合のみ埋まります。
type CaptionResult struct {
	Caption        string    `json:"caption"`
	Confidence     float64   `json:"confidence,omitempty"`
	ProcessingTime float64   `json:"processing_time,omitempty"` // 秒
	ImageHash      string    `json:"image_hash,omitempty"`
	Timestamp      time.Time `json:"timestamp,omitzero"`
	ModelVersion   string    `json:"model_version,omitempty"`
	Cached         bool      `json:"cached,omitempty"`
}
