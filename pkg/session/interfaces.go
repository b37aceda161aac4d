package session

import (
	"context"
	"time"

	"github.com/shouni/image-caption-kit/pkg/domain"
)

// Captioner は画像からキャプションを生成する外部サービスです。
type Captioner interface {
	Caption(ctx context.Context, blob domain.Blob) (*domain.CaptionResult, error)
}

// Previewer はプレビュー用ロケーターの払い出しと解放を担当します。
// 払い出したロケーターは必ず Release で解放する必要があります。
type Previewer interface {
	Allocate(blob domain.Blob) (string, error)
	Release(locator string)
}

// Clipboard はシステムクリップボードへの書き込み口です。
type Clipboard interface {
	WriteText(ctx context.Context, text string) error
}

// Observer は状態が変わるたびに最新の Snapshot を受け取るビューです。
type Observer interface {
	Render(snap Snapshot)
}

// ObserverFunc は関数を Observer として扱うためのアダプターです。
type ObserverFunc func(snap Snapshot)

func (f ObserverFunc) Render(snap Snapshot) { f(snap) }

// Clock はコピー済みフラグの自動リセットに使うタイマーを提供します。
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer は Clock.AfterFunc が返すタイマーです。*time.Timer が満たします。
type Timer interface {
	Stop() bool
}
