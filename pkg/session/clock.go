package session

import (
	"context"
	"time"

	"github.com/shouni/image-caption-kit/pkg/domain"
)

type systemClock struct{}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemClock は time.AfterFunc を使う実時間の Clock を返します。
func SystemClock() Clock { return systemClock{} }

type noopPreviewer struct{}

func (noopPreviewer) Allocate(domain.Blob) (string, error) { return "", nil }
func (noopPreviewer) Release(string)                       {}

type discardClipboard struct{}

func (discardClipboard) WriteText(context.Context, string) error { return nil }
