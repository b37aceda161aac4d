package web

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/shouni/image-caption-kit/pkg/domain"
	"github.com/shouni/image-caption-kit/pkg/imgutil"
)

func (s *Server) handleIndex(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", s.ctrl.Snapshot())
}

func (s *Server) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctrl.Snapshot())
}

// handleEvents は状態が変わるたびに state イベントを送ります。
func (s *Server) handleEvents(c *gin.Context) {
	ch, cancel := s.hub.Subscribe()
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case snap, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("state", snap)
			return true
		case <-ctx.Done():
			return false
		}
	})
}

func (s *Server) handleUpload(kind domain.SourceKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		blob, status, err := s.readUpload(c)
		if err != nil {
			c.JSON(status, ErrorResponse{
				Error:  "invalid upload",
				Detail: err.Error(),
			})
			return
		}

		accepted := s.ctrl.SelectImage(blob, kind)
		c.JSON(http.StatusOK, CommandResponse{Accepted: accepted, State: s.ctrl.Snapshot()})
	}
}

func (s *Server) readUpload(c *gin.Context) (domain.Blob, int, error) {
	// マルチパートのオーバーヘッド分だけ余裕を持たせる
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUploadBytes+1<<20)

	fh, err := c.FormFile(FileFieldName)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return domain.Blob{}, http.StatusRequestEntityTooLarge, err
		}
		return domain.Blob{}, http.StatusBadRequest, err
	}
	if fh.Size > s.maxUploadBytes {
		return domain.Blob{}, http.StatusRequestEntityTooLarge, errors.New("file exceeds upload limit")
	}

	f, err := fh.Open()
	if err != nil {
		return domain.Blob{}, http.StatusBadRequest, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, s.maxUploadBytes+1))
	if err != nil {
		return domain.Blob{}, http.StatusBadRequest, err
	}
	if int64(len(data)) > s.maxUploadBytes {
		return domain.Blob{}, http.StatusRequestEntityTooLarge, errors.New("file exceeds upload limit")
	}

	// ブラウザが宣言した MIME タイプをそのまま使う。宣言が無いときだけ中身から判定する
	mediaType := fh.Header.Get("Content-Type")
	if mediaType == "" {
		mediaType = imgutil.DetectMediaType(data)
	} else if mt, _, err := mime.ParseMediaType(mediaType); err == nil {
		mediaType = mt
	}

	return domain.Blob{
		Name:      filepath.Base(fh.Filename),
		MediaType: mediaType,
		Data:      data,
	}, http.StatusOK, nil
}

func (s *Server) handleGenerate(c *gin.Context) {
	accepted := s.ctrl.GenerateCaption(c.Request.Context())
	c.JSON(http.StatusOK, CommandResponse{Accepted: accepted, State: s.ctrl.Snapshot()})
}

func (s *Server) handleClear(c *gin.Context) {
	accepted := s.ctrl.ClearImage()
	c.JSON(http.StatusOK, CommandResponse{Accepted: accepted, State: s.ctrl.Snapshot()})
}

func (s *Server) handleCopy(c *gin.Context) {
	accepted := s.ctrl.CopyCaption(c.Request.Context())
	c.JSON(http.StatusOK, CommandResponse{Accepted: accepted, State: s.ctrl.Snapshot()})
}

// handlePreview は有効なロケーターの画像を返します。解放済みなら 404 です。
func (s *Server) handlePreview(c *gin.Context) {
	blob, ok := s.previews.Open(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "preview not found"})
		return
	}

	contentType := blob.MediaType
	if !blob.IsImage() {
		// ピッカー経由の画像以外をページと同じオリジンで描画させない
		contentType = "application/octet-stream"
		slog.DebugContext(c.Request.Context(), "画像以外のプレビューをバイナリとして返します", "media_type", blob.MediaType)
	}

	c.Header("Cache-Control", "no-store")
	c.Header("X-Content-Type-Options", "nosniff")
	c.Data(http.StatusOK, contentType, blob.Data)
}
