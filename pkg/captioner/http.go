package captioner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/shouni/go-http-kit/pkg/httpkit"
	"github.com/shouni/image-caption-kit/pkg/domain"
	"github.com/shouni/image-caption-kit/pkg/imgutil"
	"golang.org/x/time/rate"
)

// HTTPCaptioner は画像を multipart でキャプションサービスへアップロードするクライアントです。
type HTTPCaptioner struct {
	client   Uploader
	endpoint string
	compress bool
	quality  int
	limiter  *rate.Limiter
}

// HTTPOption は HTTPCaptioner の生成オプションです。
type HTTPOption func(*HTTPCaptioner)

// WithCompression は送信前に JPEG へ再圧縮します。quality が範囲外なら既定値を使います。
func WithCompression(quality int) HTTPOption {
	return func(c *HTTPCaptioner) {
		if quality < 1 || quality > 100 {
			quality = DefaultCompressionQuality
		}
		c.compress = true
		c.quality = quality
	}
}

// WithRateLimit は1分あたりの送信数を制限します。0 以下なら無制限です。
func WithRateLimit(perMinute int) HTTPOption {
	return func(c *HTTPCaptioner) {
		if perMinute > 0 {
			c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
		}
	}
}

// NewUploadClient はキャプションサービス向けの HTTP クライアントを生成します。
// サービスは通常 localhost で動くため SSRF 検証を外します。
// 送信は Do で1回だけ行い、httpkit のリトライには乗せません。
func NewUploadClient(timeout time.Duration) *httpkit.Client {
	return httpkit.New(timeout, httpkit.WithSkipNetworkValidation(true))
}

// NewHTTPCaptioner は依存関係を注入して HTTPCaptioner を初期化します。
func NewHTTPCaptioner(client Uploader, endpoint string, opts ...HTTPOption) (*HTTPCaptioner, error) {
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	u, err := url.ParseRequestURI(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported endpoint scheme: %s", u.Scheme)
	}

	c := &HTTPCaptioner{client: client, endpoint: endpoint}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Caption は画像をアップロードし、応答の caption を返します。
func (c *HTTPCaptioner) Caption(ctx context.Context, blob domain.Blob) (*domain.CaptionResult, error) {
	if blob.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	part := c.preparePart(ctx, blob)
	body, contentType, err := encodeMultipart(part)
	if err != nil {
		return nil, fmt.Errorf("multipart の組み立てに失敗しました: %w", err)
	}

	start := time.Now()
	raw, err := c.post(ctx, body, contentType)
	if err != nil {
		return nil, fmt.Errorf("キャプションサービスへの送信に失敗しました: %w", err)
	}

	res, err := parseCaptionResponse(raw)
	if err != nil {
		return nil, err
	}
	if res.ProcessingTime == 0 {
		res.ProcessingTime = time.Since(start).Seconds()
	}
	return res, nil
}

// post はリクエストを1回だけ送り、2xx 以外を httpkit.HandleResponse でエラーにします。
func (c *HTTPCaptioner) post(ctx context.Context, body []byte, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	return httpkit.HandleResponse(resp)
}

// preparePart は送信するファイルパートの中身を決めます。
// 再圧縮に失敗した場合は元のデータをそのまま送ります。
func (c *HTTPCaptioner) preparePart(ctx context.Context, blob domain.Blob) domain.Blob {
	part := blob
	if part.MediaType == "" {
		part.MediaType = imgutil.DetectMediaType(part.Data)
	}

	if c.compress {
		compressed, err := imgutil.CompressToJPEG(blob.Data, c.quality)
		if err != nil {
			slog.WarnContext(ctx, "JPEGへの再圧縮に失敗したため元データを送信します", "error", err)
		} else {
			part.Data = compressed
			part.MediaType = "image/jpeg"
			part.Name = strings.TrimSuffix(part.Name, filepath.Ext(part.Name))
			if part.Name != "" {
				part.Name += ".jpg"
			}
		}
	}

	if part.Name == "" {
		part.Name = "image" + imgutil.ExtensionFor(part.MediaType)
	}
	return part
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// encodeMultipart は file フィールドを1つだけ持つ multipart ボディを作ります。
func encodeMultipart(part domain.Blob) ([]byte, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		FileFieldName, quoteEscaper.Replace(part.Name)))
	h.Set("Content-Type", part.MediaType)

	fw, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(part.Data); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return body.Bytes(), mw.FormDataContentType(), nil
}

// parseCaptionResponse は応答 JSON を CaptionResult に変換します。
func parseCaptionResponse(raw []byte) (*domain.CaptionResult, error) {
	var p captionPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("応答JSONの解析に失敗しました: %w", err)
	}
	if p.Caption == nil {
		return nil, ErrMissingCaption
	}
	caption := strings.TrimSpace(*p.Caption)
	if caption == "" {
		return nil, ErrEmptyCaption
	}

	return &domain.CaptionResult{
		Caption:        caption,
		Confidence:     p.Confidence,
		ProcessingTime: p.ProcessingTime,
		ImageHash:      p.ImageHash,
		Timestamp:      parseTimestamp(p.Timestamp),
		ModelVersion:   p.ModelVersion,
	}, nil
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t
		}
	}
	return time.Time{}
}
