package inbox

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shouni/image-caption-kit/pkg/domain"
)

type selection struct {
	blob domain.Blob
	kind domain.SourceKind
}

type fakeTarget struct {
	mu        sync.Mutex
	selected  chan selection
	generated int
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{selected: make(chan selection, 16)}
}

// ドロップ経由では画像以外を拒否する点だけ本物に合わせる
func (f *fakeTarget) SelectImage(blob domain.Blob, kind domain.SourceKind) bool {
	if kind == domain.SourceDrop && !blob.IsImage() {
		return false
	}
	f.selected <- selection{blob: blob, kind: kind}
	return true
}

func (f *fakeTarget) GenerateCaption(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generated++
	return true
}

func (f *fakeTarget) generateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.generated
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	return buf.Bytes()
}
