package captioner

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/shouni/go-gemini-client/pkg/gemini"
	"github.com/shouni/image-caption-kit/pkg/domain"
	"google.golang.org/genai"
)

// --- Mocks ---

type mockUploader struct {
	lastURL         string
	lastBody        []byte
	lastContentType string
	calls           int
	status          int
	resp            []byte
	err             error
}

func (m *mockUploader) Do(req *http.Request) (*http.Response, error) {
	m.calls++
	m.lastURL = req.URL.String()
	m.lastContentType = req.Header.Get("Content-Type")
	if req.Body != nil {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		m.lastBody = body
	}
	if m.err != nil {
		return nil, m.err
	}
	status := m.status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewReader(m.resp)),
	}, nil
}

type mockAIClient struct {
	generateFunc func(model string, parts []*genai.Part, opts gemini.GenerateOptions) (*gemini.Response, error)
}

func (m *mockAIClient) GenerateWithParts(ctx context.Context, model string, parts []*genai.Part, opts gemini.GenerateOptions) (*gemini.Response, error) {
	if m.generateFunc != nil {
		return m.generateFunc(model, parts, opts)
	}
	return nil, nil
}

type mockCaptioner struct {
	mu    sync.Mutex
	calls int
	res   *domain.CaptionResult
	err   error
}

func (m *mockCaptioner) Caption(ctx context.Context, blob domain.Blob) (*domain.CaptionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	r := *m.res
	return &r, nil
}

type mockCache struct {
	data map[string]any
}

func (m *mockCache) Get(key string) (any, bool) {
	val, ok := m.data[key]
	return val, ok
}

func (m *mockCache) Set(key string, value any, d time.Duration) {
	m.data[key] = value
}

func textResponse(texts ...string) *gemini.Response {
	parts := make([]*genai.Part, 0, len(texts))
	for _, t := range texts {
		parts = append(parts, &genai.Part{Text: t})
	}
	return &gemini.Response{
		RawResponse: &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: parts}}},
		},
	}
}
