package web

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/shouni/image-caption-kit/internal/clipboard"
	"github.com/shouni/image-caption-kit/internal/preview"
	"github.com/shouni/image-caption-kit/pkg/domain"
	"github.com/shouni/image-caption-kit/pkg/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubCaptioner struct {
	caption string
	err     error
}

func (s stubCaptioner) Caption(ctx context.Context, blob domain.Blob) (*domain.CaptionResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &domain.CaptionResult{Caption: s.caption, ModelVersion: "stub-1"}, nil
}

type testEnv struct {
	server   *Server
	ctrl     *session.Controller
	previews *preview.Store
	clip     *clipboard.Memory
}

func newTestEnv(t *testing.T, captioner session.Captioner, opts ...Option) *testEnv {
	t.Helper()
	previews := preview.NewStore()
	clip := clipboard.NewMemory()

	ctrl, err := session.NewController(captioner,
		session.WithPreviewer(previews),
		session.WithClipboard(clip),
	)
	require.NoError(t, err)

	srv, err := NewServer(ctrl, previews, opts...)
	require.NoError(t, err)

	t.Cleanup(func() {
		srv.Close()
		ctrl.Close()
		ctrl.Wait()
	})
	return &testEnv{server: srv, ctrl: ctrl, previews: previews, clip: clip}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func (e *testEnv) post(path string) *httptest.ResponseRecorder {
	return e.do(httptest.NewRequest(http.MethodPost, path, nil))
}

func (e *testEnv) upload(t *testing.T, path, filename, contentType string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return e.do(req)
}

func decodeCommand(t *testing.T, w *httptest.ResponseRecorder) CommandResponse {
	t.Helper()
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp CommandResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	return buf.Bytes()
}
