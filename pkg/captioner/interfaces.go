package captioner

import (
	"context"
	"net/http"
	"time"

	"github.com/shouni/go-gemini-client/pkg/gemini"
	"github.com/shouni/image-caption-kit/pkg/domain"
	"google.golang.org/genai"
)

// Captioner は画像1枚からキャプションを生成するサービスの統合窓口です。
type Captioner interface {
	Caption(ctx context.Context, blob domain.Blob) (*domain.CaptionResult, error)
}

// Uploader はキャプションサービスへリクエストを1回送るためのインターフェースです。
// httpkit.Client の Do はリトライを挟まないため、これを満たします。
type Uploader interface {
	Do(req *http.Request) (*http.Response, error)
}

// ContentGenerator はテキストと画像のパーツから応答を生成するモデルです。
type ContentGenerator interface {
	GenerateWithParts(ctx context.Context, model string, parts []*genai.Part, opts gemini.GenerateOptions) (*gemini.Response, error)
}

// ImageCacher は、生成結果をキャッシュするためのインターフェースです。
type ImageCacher interface {
	// Get は、指定されたキーに紐づくアイテムを取得します。
	Get(key string) (any, bool)
	// Set は、指定されたキーと値、有効期限でアイテムを保存します。
	Set(key string, value any, d time.Duration)
}
