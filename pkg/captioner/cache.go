package captioner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
	"github.com/shouni/image-caption-kit/pkg/domain"
	"github.com/shouni/image-caption-kit/pkg/utils"
)

// CachedCaptioner は画像ハッシュをキーに成功した結果をキャッシュするデコレーターです。
// 失敗はキャッシュしません。
type CachedCaptioner struct {
	next  Captioner
	cache ImageCacher
	ttl   time.Duration
}

// NewCachedCaptioner は Captioner をキャッシュ付きでラップします。
func NewCachedCaptioner(next Captioner, cache ImageCacher, ttl time.Duration) (*CachedCaptioner, error) {
	if next == nil {
		return nil, fmt.Errorf("next captioner is required")
	}
	if cache == nil {
		return nil, fmt.Errorf("cache is required")
	}
	return &CachedCaptioner{next: next, cache: cache, ttl: ttl}, nil
}

func (c *CachedCaptioner) Caption(ctx context.Context, blob domain.Blob) (*domain.CaptionResult, error) {
	hash := utils.ImageHash(blob.Data)
	key := cacheKeyCaption + hash

	if val, ok := c.cache.Get(key); ok {
		if res, ok := val.(domain.CaptionResult); ok {
			slog.DebugContext(ctx, "キャプションをキャッシュから返します", "image", hash[:12])
			res.Cached = true
			return &res, nil
		}
		slog.WarnContext(ctx, "キャッシュデータが不正な型です", "key", key, "type", fmt.Sprintf("%T", val))
	}

	res, err := c.next.Caption(ctx, blob)
	if err != nil {
		return nil, err
	}
	if res.ImageHash == "" {
		res.ImageHash = hash
	}
	c.cache.Set(key, *res, c.ttl)
	return res, nil
}

// LRUCache は件数上限と有効期限を持つスレッドセーフな ImageCacher です。
type LRUCache struct {
	mu    sync.Mutex
	lru   *lru.Cache
	nowFn func() time.Time
}

type lruEntry struct {
	value   any
	expires time.Time // ゼロ値は無期限
}

// NewLRUCache は最大 maxEntries 件を保持する LRUCache を作成します。
func NewLRUCache(maxEntries int) *LRUCache {
	return &LRUCache{lru: lru.New(maxEntries), nowFn: time.Now}
}

func (c *LRUCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	e := v.(lruEntry)
	if !e.expires.IsZero() && !c.nowFn().Before(e.expires) {
		c.lru.Remove(key)
		return nil, false
	}
	return e.value, true
}

func (c *LRUCache) Set(key string, value any, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := lruEntry{value: value}
	if d > 0 {
		e.expires = c.nowFn().Add(d)
	}
	c.lru.Add(key, e)
}

// Len は保持している件数を返します。期限切れのエントリも含みます。
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
