package session

import "time"

// Option は Controller の生成オプションです。
type Option func(*Controller)

// WithPreviewer はプレビュー用ロケーターの払い出し先を指定します。
func WithPreviewer(p Previewer) Option {
	return func(c *Controller) {
		if p != nil {
			c.previewer = p
		}
	}
}

// WithClipboard はコピー先のクリップボードを指定します。
func WithClipboard(cb Clipboard) Option {
	return func(c *Controller) {
		if cb != nil {
			c.clipboard = cb
		}
	}
}

// WithClock はタイマーの供給元を差し替えます。主にテスト用です。
func WithClock(clk Clock) Option {
	return func(c *Controller) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithErrorMessage は生成失敗時の表示文言を差し替えます。
func WithErrorMessage(msg string) Option {
	return func(c *Controller) {
		if msg != "" {
			c.errorMessage = msg
		}
	}
}

// WithRequestTimeout は1回の生成リクエストの上限時間を設定します。0 なら無制限です。
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}
