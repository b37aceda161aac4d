package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/shouni/go-gemini-client/pkg/gemini"
	"github.com/shouni/go-remote-io/pkg/remoteio"
	"golang.org/x/sync/errgroup"

	"github.com/shouni/image-caption-kit/internal/clipboard"
	"github.com/shouni/image-caption-kit/internal/config"
	"github.com/shouni/image-caption-kit/internal/inbox"
	"github.com/shouni/image-caption-kit/internal/logger"
	"github.com/shouni/image-caption-kit/internal/preview"
	"github.com/shouni/image-caption-kit/internal/web"
	"github.com/shouni/image-caption-kit/pkg/captioner"
	"github.com/shouni/image-caption-kit/pkg/domain"
	"github.com/shouni/image-caption-kit/pkg/session"
	"github.com/shouni/image-caption-kit/pkg/source"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (defaults are used when empty)")
	image := flag.String("image", "", "image path or URL to select on startup")
	flag.Parse()

	if err := run(*configPath, *image); err != nil {
		slog.Error("captiond failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath, image string) error {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.Default()
	}
	if err != nil {
		return err
	}

	slog.SetDefault(logger.New(cfg.Logging.Level, cfg.Logging.Format, os.Stdout))
	if !strings.EqualFold(cfg.Logging.Level, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	capt, err := buildCaptioner(ctx, cfg, captioner.NewUploadClient(cfg.Caption.Timeout))
	if err != nil {
		return err
	}

	previews := preview.NewStore()
	ctrl, err := session.NewController(capt,
		session.WithPreviewer(previews),
		session.WithClipboard(buildClipboard(cfg.Clipboard.Mode)),
		session.WithErrorMessage(cfg.Caption.ErrorMessage),
		session.WithRequestTimeout(cfg.Caption.Timeout),
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer func() {
		ctrl.Close()
		ctrl.Wait()
	}()

	loaderOpts := []source.LoaderOption{source.WithMaxBytes(cfg.Input.MaxBytes)}
	if cfg.Input.AllowPrivateHosts {
		loaderOpts = append(loaderOpts, source.WithPrivateHosts())
	}
	fetcher := source.NewHTTPClient(cfg.Caption.Timeout, cfg.Input.AllowPrivateHosts)
	loader, err := source.NewLoader(remoteio.NewUniversalInputReader(nil, nil), fetcher, loaderOpts...)
	if err != nil {
		return fmt.Errorf("create loader: %w", err)
	}

	if image != "" {
		blob, err := loader.Load(ctx, image)
		if err != nil {
			return fmt.Errorf("load %s: %w", image, err)
		}
		if !ctrl.SelectImage(blob, domain.SourcePicker) {
			slog.WarnContext(ctx, "起動時の画像を選択できませんでした", "image", image)
		}
	}

	srv, err := web.NewServer(ctrl, previews,
		web.WithAddr(cfg.Server.Addr),
		web.WithRateLimit(cfg.Server.RatePerSecond, cfg.Server.Burst),
		web.WithMaxUploadBytes(cfg.Input.MaxBytes),
		web.WithShutdownTimeout(cfg.Server.ShutdownGrace),
	)
	if err != nil {
		return fmt.Errorf("create web server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})

	if cfg.Inbox.Dir != "" {
		if err := os.MkdirAll(cfg.Inbox.Dir, 0o755); err != nil {
			return fmt.Errorf("create inbox dir: %w", err)
		}
		var opts []inbox.Option
		opts = append(opts, inbox.WithSettle(cfg.Inbox.Settle))
		if cfg.Inbox.AutoGenerate {
			opts = append(opts, inbox.WithAutoGenerate())
		}
		w, err := inbox.New(cfg.Inbox.Dir, loader, ctrl, opts...)
		if err != nil {
			return fmt.Errorf("create inbox watcher: %w", err)
		}
		if cfg.Inbox.AdoptExisting {
			if err := w.AdoptExisting(ctx); err != nil {
				slog.WarnContext(ctx, "受信フォルダの既存ファイルを取り込めませんでした", "error", err)
			}
		}
		g.Go(func() error {
			defer w.Stop()
			return w.Start(gctx)
		})
	}

	slog.InfoContext(ctx, "captiond を起動しました",
		"addr", cfg.Server.Addr, "backend", cfg.Caption.Backend, "inbox", cfg.Inbox.Dir)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("captiond を停止しました")
	return nil
}

// buildCaptioner は設定に応じたバックエンドを組み立て、必要ならキャッシュで包みます。
func buildCaptioner(ctx context.Context, cfg *config.Config, uploader captioner.Uploader) (captioner.Captioner, error) {
	var (
		c   captioner.Captioner
		err error
	)

	switch cfg.Caption.Backend {
	case config.BackendGemini:
		client, gerr := gemini.NewClient(ctx, gemini.Config{APIKey: cfg.Gemini.APIKey})
		if gerr != nil {
			return nil, fmt.Errorf("create gemini client: %w", gerr)
		}
		c, err = captioner.NewGeminiCaptioner(client, cfg.Gemini.Model, cfg.Gemini.Prompt)
	default:
		var opts []captioner.HTTPOption
		if cfg.Caption.Compress {
			opts = append(opts, captioner.WithCompression(cfg.Caption.CompressQuality))
		}
		if cfg.Caption.RatePerMinute > 0 {
			opts = append(opts, captioner.WithRateLimit(cfg.Caption.RatePerMinute))
		}
		c, err = captioner.NewHTTPCaptioner(uploader, cfg.Caption.Endpoint, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("create captioner: %w", err)
	}

	if !cfg.Caption.Cache.CacheEnabled() {
		return c, nil
	}
	cached, err := captioner.NewCachedCaptioner(c, captioner.NewLRUCache(cfg.Caption.Cache.MaxEntries), cfg.Caption.Cache.TTL)
	if err != nil {
		return nil, fmt.Errorf("create caption cache: %w", err)
	}
	return cached, nil
}

// buildClipboard は mode に応じたクリップボードを返します。
// OS のクリップボードが使えない場合はプロセス内メモリにフォールバックします。
func buildClipboard(mode string) session.Clipboard {
	if mode == config.ClipboardMemory {
		return clipboard.NewMemory()
	}
	if sys, ok := clipboard.Detect(); ok {
		return sys
	}
	if mode == config.ClipboardSystem {
		slog.Warn("OS のクリップボードが使えません。メモリ上に保持します")
	}
	return clipboard.NewMemory()
}
