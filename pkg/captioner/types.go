package captioner

import (
	"errors"
	"time"
)

const (
	// FileFieldName はアップロードする multipart のファイルフィールド名です。
	FileFieldName = "file"
	// DefaultCompressionQuality は再圧縮を有効にしたときの JPEG 品質です。
	DefaultCompressionQuality = 75
	// DefaultCaptionPrompt は Gemini に渡すキャプション生成の指示です。
	DefaultCaptionPrompt = "Describe this image in one concise, natural English sentence. Reply with the caption only."

	cacheKeyCaption = "caption:"
)

var (
	// ErrMissingCaption は応答に caption 文字列が含まれていないことを示します。
	ErrMissingCaption = errors.New("response has no caption field")
	// ErrEmptyCaption は caption が空文字だったことを示します。
	ErrEmptyCaption = errors.New("response caption is empty")
	// ErrNotImage は送信しようとしたデータが画像ではないことを示します。
	ErrNotImage = errors.New("blob is not an image")
)

// captionPayload はキャプションサービスの JSON 応答です。
// caption 以外は任意項目で、欠けていても失敗にはしません。
type captionPayload struct {
	Caption        *string `json:"caption"`
	Confidence     float64 `json:"confidence"`
	ProcessingTime float64 `json:"processing_time"`
	ImageHash      string  `json:"image_hash"`
	Timestamp      string  `json:"timestamp"`
	ModelVersion   string  `json:"model_version"`
}

// timestampLayouts は応答の timestamp として受け付ける書式です。
// タイムゾーン無しの ISO 8601 はローカル時刻として扱います。
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}
