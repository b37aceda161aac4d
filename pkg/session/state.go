package session

import (
	"fmt"
	"time"

	"github.com/shouni/image-caption-kit/pkg/domain"
)

const (
	// CopyResetDelay はコピー済みフラグが false に戻るまでの時間です。
	CopyResetDelay = 2 * time.Second
	// DefaultErrorMessage は生成失敗時にユーザーへ表示する固定文言です。
	DefaultErrorMessage = "Failed to generate caption. Make sure the caption service is running."
)

// RequestState はキャプション生成リクエストの状態です。
type RequestState int

const (
	Idle RequestState = iota
	Pending
)

func (s RequestState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	default:
		return fmt.Sprintf("RequestState(%d)", int(s))
	}
}

func (s RequestState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *RequestState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*s = Idle
	case "pending":
		*s = Pending
	default:
		return fmt.Errorf("unknown request state: %q", string(b))
	}
	return nil
}

// Snapshot はビューに渡す不変の状態です。
// Version は変更ごとに単調増加するため、ビューは古い Snapshot を捨てられます。
type Snapshot struct {
	HasImage       bool                  `json:"has_image"`
	PreviewLocator string                `json:"preview_locator,omitempty"`
	ImageName      string                `json:"image_name,omitempty"`
	MediaType      string                `json:"media_type,omitempty"`
	ImageSize      int                   `json:"image_size,omitempty"`
	Caption        string                `json:"caption"`
	Error          string                `json:"error"`
	State          RequestState          `json:"state"`
	Copied         bool                  `json:"copied"`
	Result         *domain.CaptionResult `json:"result,omitempty"`
	Version        uint64                `json:"version"`
}

// Busy は生成中かどうかを返します。ビューのボタン無効化に使います。
func (s Snapshot) Busy() bool {
	return s.State == Pending
}

// CanGenerate は generate コマンドが受け付けられる状態かどうかを返します。
func (s Snapshot) CanGenerate() bool {
	return s.HasImage && s.State == Idle
}

// imageHandle はコントローラーが専有する、選択中画像への参照です。
type imageHandle struct {
	id      uint64
	blob    domain.Blob
	locator string
}

// request は送信中リクエストと、それが発行された時点のハンドルの対応です。
type request struct {
	seq      uint64
	handleID uint64
	blob     domain.Blob
}
