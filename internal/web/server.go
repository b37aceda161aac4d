package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shouni/image-caption-kit/pkg/domain"
)

//go:embed templates/*
var templatesFS embed.FS

const (
	DefaultAddr = "127.0.0.1:8080"

	ReadHeaderTimeout = 10 * time.Second
	ReadTimeout       = 30 * time.Second
	IdleTimeout       = 60 * time.Second
	ShutdownTimeout   = 10 * time.Second

	// DefaultMaxUploadBytes は1枚あたりのアップロード上限です。
	DefaultMaxUploadBytes = 10 << 20

	// FileFieldName はアップロードのマルチパートフィールド名です。
	FileFieldName = "file"
)

// Server はセッションをブラウザから操作するためのローカル HTTP サーバーです。
type Server struct {
	ctrl     Controller
	previews PreviewSource
	hub      *Hub
	router   *gin.Engine
	limiter  *rateLimiter

	addr            string
	maxUploadBytes  int64
	shutdownTimeout time.Duration
	unsubscribe     func()
}

type Option func(*Server)

func WithAddr(addr string) Option {
	return func(s *Server) {
		if addr != "" {
			s.addr = addr
		}
	}
}

// WithRateLimit は /api 配下のクライアントごとのレート制限を設定します。
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) {
		if perSecond > 0 {
			s.limiter = newRateLimiter(perSecond, burst)
		}
	}
}

func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUploadBytes = n
		}
	}
}

func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// NewServer はセッションに Hub を購読させ、ルーターを組み立てます。
func NewServer(ctrl Controller, previews PreviewSource, opts ...Option) (*Server, error) {
	if ctrl == nil {
		return nil, fmt.Errorf("controller is required")
	}
	if previews == nil {
		return nil, fmt.Errorf("preview source is required")
	}

	s := &Server{
		ctrl:            ctrl,
		previews:        previews,
		hub:             NewHub(),
		addr:            DefaultAddr,
		maxUploadBytes:  DefaultMaxUploadBytes,
		shutdownTimeout: ShutdownTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	tmpl, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	s.router = s.setupRouter(tmpl)
	s.unsubscribe = ctrl.Subscribe(s.hub)
	return s, nil
}

func (s *Server) setupRouter(tmpl *template.Template) *gin.Engine {
	router := gin.New()
	router.MaxMultipartMemory = s.maxUploadBytes

	router.Use(gin.Recovery())
	router.Use(requestLogger())
	router.Use(errorHandler())

	router.SetHTMLTemplate(tmpl)

	router.GET("/", s.handleIndex)
	router.GET("/preview/:id", s.handlePreview)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "captiond",
		})
	})

	api := router.Group("/api")
	if s.limiter != nil {
		api.Use(s.limiter.middleware())
	}
	api.GET("/state", s.handleState)
	api.GET("/events", s.handleEvents)
	api.POST("/select", s.handleUpload(domain.SourcePicker))
	api.POST("/drop", s.handleUpload(domain.SourceDrop))
	api.POST("/generate", s.handleGenerate)
	api.POST("/clear", s.handleClear)
	api.POST("/copy", s.handleCopy)

	return router
}

// Handler はテストや独自の http.Server から使うためのハンドラーを返します。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub は SSE 配信用の Hub を返します。
func (s *Server) Hub() *Hub {
	return s.hub
}

// ListenAndServe は ctx がキャンセルされるまでサーバーを動かし、終了時にグレースフルに停止します。
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		IdleTimeout:       IdleTimeout,
		// SSE を使うため WriteTimeout は設定しない
	}

	if s.limiter != nil {
		s.limiter.startCleanup(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "Web サーバーを起動しました", "url", "http://"+s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.InfoContext(ctx, "Web サーバーを停止しています")
		s.Close()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		slog.InfoContext(ctx, "Web サーバーを停止しました")
		return nil

	case err := <-errCh:
		s.Close()
		return fmt.Errorf("server error: %w", err)
	}
}

// Close はセッションの購読を解除し、SSE 接続を閉じます。
func (s *Server) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.hub.Close()
}
