package source

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shouni/go-http-kit/pkg/httpkit"
	"github.com/shouni/go-remote-io/pkg/remoteio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockHTTPClient struct {
	data    []byte
	err     error
	lastURL string
}

func (m *mockHTTPClient) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	m.lastURL = url
	return m.data, m.err
}

// IsSafeURL は本物の httpkit と同じ判定を使うのだ。
func (m *mockHTTPClient) IsSafeURL(urlStr string) (bool, error) {
	return httpkit.New(time.Second).IsSafeURL(urlStr)
}

func newReader() remoteio.InputReader {
	return remoteio.NewUniversalInputReader(nil, nil)
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 2, 2))))
	return buf.Bytes()
}

func writePNG(t *testing.T, dir, name string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{255, 0, 0, 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, buf.Bytes(), 0o644))
	return p
}

func TestLoader_Load(t *testing.T) {
	ctx := context.Background()

	t.Run("ローカルファイルを読み込み MIME タイプを判定するのだ", func(t *testing.T) {
		p := writePNG(t, t.TempDir(), "dog.png")
		l, err := NewLoader(newReader(), nil)
		require.NoError(t, err)

		blob, err := l.Load(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, "dog.png", blob.Name)
		assert.Equal(t, "image/png", blob.MediaType)
		assert.NotEmpty(t, blob.Data)
	})

	t.Run("file:// 付きでも読めるのだ", func(t *testing.T) {
		p := writePNG(t, t.TempDir(), "cat.png")
		l, _ := NewLoader(newReader(), nil)

		blob, err := l.Load(ctx, "file://"+p)
		require.NoError(t, err)
		assert.Equal(t, "cat.png", blob.Name)
	})

	t.Run("拡張子ではなく中身で判定するのだ", func(t *testing.T) {
		dir := t.TempDir()
		p := filepath.Join(dir, "fake.png")
		require.NoError(t, os.WriteFile(p, []byte("plain text pretending"), 0o644))
		l, _ := NewLoader(newReader(), nil)

		blob, err := l.Load(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, "text/plain", blob.MediaType)
		assert.False(t, blob.IsImage())
	})

	t.Run("上限サイズを超えるとエラーなのだ", func(t *testing.T) {
		p := writePNG(t, t.TempDir(), "big.png")
		l, _ := NewLoader(newReader(), nil, WithMaxBytes(8))

		_, err := l.Load(ctx, p)
		assert.ErrorIs(t, err, ErrTooLarge)
	})

	t.Run("存在しないファイルはエラーなのだ", func(t *testing.T) {
		l, _ := NewLoader(newReader(), nil)
		_, err := l.Load(ctx, filepath.Join(t.TempDir(), "missing.png"))
		assert.Error(t, err)
	})

	t.Run("プライベートアドレスの URL は拒否するのだ", func(t *testing.T) {
		hc := &mockHTTPClient{data: []byte("x")}
		l, _ := NewLoader(newReader(), hc)

		_, err := l.Load(ctx, "http://127.0.0.1/admin.png")
		assert.ErrorIs(t, err, ErrUnsafeURL)
		assert.Empty(t, hc.lastURL)
	})

	t.Run("許可すればプライベートアドレスからも取得できるのだ", func(t *testing.T) {
		hc := &mockHTTPClient{data: pngBytes(t)}
		l, _ := NewLoader(newReader(), hc, WithPrivateHosts())

		blob, err := l.Load(ctx, "http://127.0.0.1:9000/images/dog.png?size=large")
		require.NoError(t, err)
		assert.Equal(t, "dog.png", blob.Name)
		assert.Equal(t, "image/png", blob.MediaType)
		assert.Equal(t, "http://127.0.0.1:9000/images/dog.png?size=large", hc.lastURL)
	})

	t.Run("ダウンロード失敗はラップして返すのだ", func(t *testing.T) {
		hc := &mockHTTPClient{err: errors.New("404")}
		l, _ := NewLoader(newReader(), hc, WithPrivateHosts())

		_, err := l.Load(ctx, "http://127.0.0.1/missing.png")
		assert.Error(t, err)
	})

	t.Run("HTTPクライアント未設定なら URL はエラーなのだ", func(t *testing.T) {
		l, _ := NewLoader(newReader(), nil, WithPrivateHosts())
		_, err := l.Load(ctx, "http://127.0.0.1/a.png")
		assert.Error(t, err)
	})
}

func TestNewLoader(t *testing.T) {
	_, err := NewLoader(nil, nil)
	assert.Error(t, err)
}

func TestLoader_List(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, dir, "b.png")
	writePNG(t, dir, "a.png")
	writePNG(t, dir, ".hidden.png")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	l, err := NewLoader(newReader(), nil)
	require.NoError(t, err)

	var got []string
	err = l.List(context.Background(), dir, func(p string) error {
		got = append(got, filepath.Base(p))
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"a.png", "b.png"}, got)
}

func TestLoader_FetchWithHTTPClient(t *testing.T) {
	ctx := context.Background()
	data := pngBytes(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	t.Run("allow_private_hosts ならローカルのサーバーから取得できるのだ", func(t *testing.T) {
		l, err := NewLoader(newReader(), NewHTTPClient(5*time.Second, true), WithPrivateHosts())
		require.NoError(t, err)

		blob, err := l.Load(ctx, srv.URL+"/images/dog.png")
		require.NoError(t, err)
		assert.Equal(t, "dog.png", blob.Name)
		assert.Equal(t, "image/png", blob.MediaType)
		assert.Equal(t, data, blob.Data)
	})

	t.Run("既定ではローカルのサーバーへは接続しないのだ", func(t *testing.T) {
		l, err := NewLoader(newReader(), NewHTTPClient(5*time.Second, false))
		require.NoError(t, err)

		_, err = l.Load(ctx, srv.URL+"/images/dog.png")
		assert.ErrorIs(t, err, ErrUnsafeURL)
	})
}

func TestHTTPClient_IsSafeURL(t *testing.T) {
	hc := NewHTTPClient(time.Second, false)
	tests := []struct {
		name string
		url  string
		want bool
	}{
		{"パブリックIP", "https://8.8.8.8/favicon.ico", true},
		{"ループバック", "http://127.0.0.1/admin", false},
		{"プライベートIP (クラスA)", "http://10.255.255.254/metadata", false},
		{"リンクローカル", "http://169.254.169.254/latest/meta-data", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			safe, _ := hc.IsSafeURL(tt.url)
			assert.Equal(t, tt.want, safe)
		})
	}
}
