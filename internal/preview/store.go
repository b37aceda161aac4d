package preview

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/shouni/image-caption-kit/pkg/domain"
)

// PathPrefix はロケーターの先頭に付くパスです。web の GET /preview/:id と対になります。
const PathPrefix = "/preview/"

var ErrEmptyBlob = errors.New("preview: blob is empty")

// Store は選択中画像のプレビューをメモリ上に保持し、推測不能なロケーターで公開します。
// Release されたロケーターは二度と解決されません。
type Store struct {
	mu    sync.RWMutex
	blobs map[string]domain.Blob
}

func NewStore() *Store {
	return &Store{blobs: make(map[string]domain.Blob)}
}

// Allocate は blob を登録し、/preview/<uuid> 形式のロケーターを返します。
func (s *Store) Allocate(blob domain.Blob) (string, error) {
	if blob.Empty() {
		return "", ErrEmptyBlob
	}
	id := uuid.NewString()

	s.mu.Lock()
	s.blobs[id] = blob
	s.mu.Unlock()

	return PathPrefix + id, nil
}

// Release はロケーターを失効させます。未知のロケーターは無視します。
func (s *Store) Release(locator string) {
	id, ok := IDFromLocator(locator)
	if !ok {
		return
	}
	s.mu.Lock()
	delete(s.blobs, id)
	s.mu.Unlock()
}

// Open は ID に対応する画像を返します。
func (s *Store) Open(id string) (domain.Blob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[id]
	return b, ok
}

// Len は現在有効なロケーターの数を返します。
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

// IDFromLocator はロケーターから ID 部分を取り出します。
func IDFromLocator(locator string) (string, bool) {
	id, ok := strings.CutPrefix(locator, PathPrefix)
	if !ok || id == "" {
		return "", false
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	return id, true
}
