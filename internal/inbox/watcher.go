package inbox

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/shouni/image-caption-kit/pkg/domain"
)

// Target は取り込んだ画像を受け取るセッションです。
type Target interface {
	SelectImage(blob domain.Blob, kind domain.SourceKind) bool
	GenerateCaption(ctx context.Context) bool
}

// BlobLoader はパスから画像を読み込みます。
type BlobLoader interface {
	Load(ctx context.Context, uri string) (domain.Blob, error)
	List(ctx context.Context, uri string, fn func(string) error) error
}

const DefaultSettle = 500 * time.Millisecond

// Watcher はドロップ用フォルダを監視し、置かれたファイルをドロップとしてセッションへ渡します。
type Watcher struct {
	dir          string
	loader       BlobLoader
	target       Target
	autoGenerate bool
	settle       time.Duration
	watcher      *fsnotify.Watcher
}

type Option func(*Watcher)

// WithAutoGenerate は取り込み直後にキャプション生成を開始します。
func WithAutoGenerate() Option {
	return func(w *Watcher) { w.autoGenerate = true }
}

// WithSettle は作成イベントから読み込みまでの待ち時間を設定します。
func WithSettle(d time.Duration) Option {
	return func(w *Watcher) {
		if d >= 0 {
			w.settle = d
		}
	}
}

func New(dir string, loader BlobLoader, target Target, opts ...Option) (*Watcher, error) {
	if dir == "" {
		return nil, fmt.Errorf("inbox dir is required")
	}
	if loader == nil {
		return nil, fmt.Errorf("loader is required")
	}
	if target == nil {
		return nil, fmt.Errorf("target is required")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("add watch path: %w", err)
	}

	w := &Watcher{
		dir:     dir,
		loader:  loader,
		target:  target,
		settle:  DefaultSettle,
		watcher: fw,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start は ctx がキャンセルされるまでイベントを処理します。
// ファイルは到着順に1件ずつ処理され、最後に置かれたものが選択状態になります。
func (w *Watcher) Start(ctx context.Context) error {
	slog.InfoContext(ctx, "受信フォルダの監視を開始しました", "dir", w.dir, "auto_generate", w.autoGenerate)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "受信フォルダの監視を終了しました", "dir", w.dir)
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if !event.Has(fsnotify.Create) {
				continue
			}
			if ignored(event.Name) {
				slog.DebugContext(ctx, "一時ファイルを無視しました", "path", event.Name)
				continue
			}

			// 書き込み完了を待つ
			select {
			case <-time.After(w.settle):
			case <-ctx.Done():
				return nil
			}

			if err := w.handle(ctx, event.Name); err != nil {
				slog.WarnContext(ctx, "受信ファイルの取り込みに失敗しました", "path", event.Name, "error", err)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			slog.ErrorContext(ctx, "受信フォルダの監視でエラーが発生しました", "error", err)
		}
	}
}

func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

// AdoptExisting は起動時点でフォルダにある最後のファイルを取り込みます。
func (w *Watcher) AdoptExisting(ctx context.Context) error {
	var last string
	err := w.loader.List(ctx, w.dir, func(path string) error {
		if !ignored(path) {
			last = path
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("list inbox: %w", err)
	}
	if last == "" {
		return nil
	}
	return w.handle(ctx, last)
}

func (w *Watcher) handle(ctx context.Context, path string) error {
	blob, err := w.loader.Load(ctx, path)
	if err != nil {
		return err
	}

	if !w.target.SelectImage(blob, domain.SourceDrop) {
		slog.DebugContext(ctx, "受信ファイルは選択されませんでした", "path", path, "media_type", blob.MediaType)
		return nil
	}
	slog.InfoContext(ctx, "受信ファイルを選択しました", "path", path)

	if w.autoGenerate {
		w.target.GenerateCaption(ctx)
	}
	return nil
}

func ignored(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") {
		return true
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".part", ".crdownload", ".tmp", ".swp":
		return true
	}
	return false
}
