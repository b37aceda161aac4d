package captioner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shouni/go-gemini-client/pkg/gemini"
	"github.com/shouni/image-caption-kit/pkg/domain"
	"github.com/shouni/image-caption-kit/pkg/imgutil"
	"github.com/shouni/image-caption-kit/pkg/utils"
	"google.golang.org/genai"
)

// GeminiCaptioner は Gemini のマルチモーダル生成でキャプションを作るバックエンドです。
type GeminiCaptioner struct {
	aiClient ContentGenerator
	model    string
	prompt   string
}

// NewGeminiCaptioner は GeminiCaptioner を初期化します。prompt が空なら既定の指示を使います。
func NewGeminiCaptioner(aiClient ContentGenerator, model, prompt string) (*GeminiCaptioner, error) {
	if aiClient == nil {
		return nil, fmt.Errorf("aiClient (ContentGenerator) is required")
	}
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if strings.TrimSpace(prompt) == "" {
		prompt = DefaultCaptionPrompt
	}
	return &GeminiCaptioner{aiClient: aiClient, model: model, prompt: prompt}, nil
}

// Caption は画像を InlineData パーツ、プロンプトをシステム指示として送り、
// 最初の候補のテキストをキャプションとして返します。
func (g *GeminiCaptioner) Caption(ctx context.Context, blob domain.Blob) (*domain.CaptionResult, error) {
	imgPart, err := toPart(blob)
	if err != nil {
		return nil, err
	}

	parts := []*genai.Part{imgPart}
	slog.DebugContext(ctx, "Geminiにキャプション生成をリクエストします", "model", g.model, "mime_type", imgPart.InlineData.MIMEType)

	start := time.Now()
	resp, err := g.aiClient.GenerateWithParts(ctx, g.model, parts, gemini.GenerateOptions{SystemPrompt: g.prompt})
	if err != nil {
		return nil, fmt.Errorf("Geminiキャプション生成エラー: %w", err)
	}

	caption, err := parseCaption(resp)
	if err != nil {
		return nil, err
	}

	return &domain.CaptionResult{
		Caption:        caption,
		ProcessingTime: time.Since(start).Seconds(),
		ImageHash:      utils.ImageHash(blob.Data),
		Timestamp:      time.Now(),
		ModelVersion:   g.model,
	}, nil
}

// toPart は Blob を genai.Part (InlineData) に変換します。
// 宣言された MIME タイプが画像でなければ中身から判定し直します。
func toPart(blob domain.Blob) (*genai.Part, error) {
	if blob.Empty() {
		return nil, fmt.Errorf("empty image")
	}
	mimeType := blob.MediaType
	if !blob.IsImage() {
		mimeType = imgutil.DetectMediaType(blob.Data)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, fmt.Errorf("%w: %s", ErrNotImage, mimeType)
	}
	return &genai.Part{InlineData: &genai.Blob{MIMEType: mimeType, Data: blob.Data}}, nil
}

// parseCaption は Gemini の応答から最初のテキストパーツを取り出します。
func parseCaption(resp *gemini.Response) (string, error) {
	if resp == nil || resp.RawResponse == nil || len(resp.RawResponse.Candidates) == 0 {
		return "", fmt.Errorf("Geminiからの有効な応答がありませんでした")
	}

	// 最初の候補 (Candidate) のみを利用する
	candidate := resp.RawResponse.Candidates[0]
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			if text := strings.TrimSpace(part.Text); text != "" {
				return text, nil
			}
		}
	}

	// 安全フィルター等によるブロックの確認
	switch candidate.FinishReason {
	case "", genai.FinishReasonUnspecified, genai.FinishReasonStop:
	default:
		return "", fmt.Errorf("キャプション生成が異常終了しました (FinishReason: %s)", candidate.FinishReason)
	}
	return "", ErrEmptyCaption
}
