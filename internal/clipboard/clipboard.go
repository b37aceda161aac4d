package clipboard

import (
	"context"
	"fmt"
	"sync"

	sysclip "github.com/atotto/clipboard"
)

// System は atotto/clipboard を通して OS のクリップボードへ書き込みます。
type System struct {
	write func(string) error
}

func (s *System) WriteText(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.write(text); err != nil {
		return fmt.Errorf("クリップボードへの書き込みに失敗しました: %w", err)
	}
	return nil
}

// Memory はプロセス内にテキストを保持するだけのクリップボードです。
type Memory struct {
	mu   sync.Mutex
	text string
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) WriteText(_ context.Context, text string) error {
	m.mu.Lock()
	m.text = text
	m.mu.Unlock()
	return nil
}

func (m *Memory) Text() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.text
}

// Detect は OS のクリップボードが使えれば System を返します。
// Linux で xclip / xsel / wl-copy が無い場合など、使えなければ ok は false です。
func Detect() (*System, bool) {
	return detect(sysclip.Unsupported, sysclip.WriteAll)
}

func detect(unsupported bool, write func(string) error) (*System, bool) {
	if unsupported {
		return nil, false
	}
	return &System{write: write}, true
}
