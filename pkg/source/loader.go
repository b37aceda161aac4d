package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/shouni/go-http-kit/pkg/httpkit"
	"github.com/shouni/go-remote-io/pkg/remoteio"
	"github.com/shouni/image-caption-kit/pkg/domain"
	"github.com/shouni/image-caption-kit/pkg/imgutil"
)

// DefaultMaxBytes は読み込める画像サイズの既定上限です。
const DefaultMaxBytes = 10 << 20

var (
	// ErrUnsafeURL は SSRF の可能性がある URL を拒否したことを示します。
	ErrUnsafeURL = errors.New("unsafe url")
	// ErrTooLarge は画像が上限サイズを超えていることを示します。
	ErrTooLarge = errors.New("image exceeds size limit")
)

// HTTPClient は、URLからデータを取得するためのインターフェースです。
type HTTPClient interface {
	FetchBytes(ctx context.Context, url string) ([]byte, error)
	IsSafeURL(urlStr string) (bool, error)
}

// NewHTTPClient は画像取得用の httpkit クライアントを生成します。
// allowPrivate が true のときだけ SSRF 検証を外し、プライベートアドレスへ接続できます。
// WithPrivateHosts と同じ値で組み合わせて使います。
func NewHTTPClient(timeout time.Duration, allowPrivate bool) *httpkit.Client {
	return httpkit.New(timeout, httpkit.WithSkipNetworkValidation(allowPrivate))
}

// Loader はパスやURLから画像を読み込み、Blob を組み立てます。
type Loader struct {
	reader       remoteio.InputReader
	httpClient   HTTPClient
	maxBytes     int64
	allowPrivate bool
}

// LoaderOption は Loader の生成オプションです。
type LoaderOption func(*Loader)

// WithMaxBytes は読み込みサイズの上限を設定します。
func WithMaxBytes(n int64) LoaderOption {
	return func(l *Loader) {
		if n > 0 {
			l.maxBytes = n
		}
	}
}

// WithPrivateHosts はプライベートアドレス宛ての URL を許可します。ローカル開発用です。
// 実際に接続するには NewHTTPClient(timeout, true) のクライアントを渡します。
func WithPrivateHosts() LoaderOption {
	return func(l *Loader) { l.allowPrivate = true }
}

// NewLoader は依存関係を注入して Loader を初期化します。
// httpClient は nil を許容し、その場合 URL の読み込みはエラーになります。
func NewLoader(reader remoteio.InputReader, httpClient HTTPClient, opts ...LoaderOption) (*Loader, error) {
	if reader == nil {
		return nil, fmt.Errorf("reader is required")
	}
	l := &Loader{reader: reader, httpClient: httpClient, maxBytes: DefaultMaxBytes}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Load は uri の内容を読み込みます。MIME タイプは中身から判定します。
func (l *Loader) Load(ctx context.Context, uri string) (domain.Blob, error) {
	var (
		data []byte
		name string
		err  error
	)

	if isHTTPURL(uri) {
		data, name, err = l.fetch(ctx, uri)
	} else {
		data, err = l.read(ctx, uri)
		name = filepath.Base(localPath(uri))
	}
	if err != nil {
		return domain.Blob{}, err
	}
	if int64(len(data)) > l.maxBytes {
		return domain.Blob{}, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}

	return domain.Blob{
		Name:      name,
		MediaType: imgutil.DetectMediaType(data),
		Data:      data,
	}, nil
}

// List は uri 配下のファイルを列挙します。ドットで始まるファイルは飛ばします。
func (l *Loader) List(ctx context.Context, uri string, fn func(string) error) error {
	if !remoteio.IsRemoteURI(uri) {
		uri = localPath(uri)
	}
	return l.reader.List(ctx, uri, func(p string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if strings.HasPrefix(path.Base(filepath.ToSlash(p)), ".") {
			return nil
		}
		return fn(p)
	})
}

func (l *Loader) fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	if l.httpClient == nil {
		return nil, "", fmt.Errorf("http client is not configured")
	}
	if !l.allowPrivate {
		if safe, err := l.httpClient.IsSafeURL(rawURL); err != nil || !safe {
			return nil, "", fmt.Errorf("%w: %v", ErrUnsafeURL, err)
		}
	}

	data, err := l.httpClient.FetchBytes(ctx, rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("画像のダウンロードに失敗しました: %w", err)
	}

	name := ""
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); base != "/" && base != "." {
			name = base
		}
	}
	return data, name, nil
}

func (l *Loader) read(ctx context.Context, uri string) ([]byte, error) {
	if !remoteio.IsRemoteURI(uri) {
		uri = localPath(uri)
	}
	rc, err := l.reader.Open(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("画像を開けませんでした: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, l.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("画像の読み込みに失敗しました: %w", err)
	}
	return data, nil
}

func isHTTPURL(uri string) bool {
	lower := strings.ToLower(uri)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func localPath(uri string) string {
	return filepath.Clean(strings.TrimPrefix(uri, "file://"))
}
