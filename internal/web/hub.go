package web

import (
	"sync"

	"github.com/shouni/image-caption-kit/pkg/session"
)

// Hub はセッションの Observer として登録され、SSE の各接続へ最新の Snapshot を配ります。
// 遅い接続には途中の Snapshot を飛ばして最新だけを届けます。
type Hub struct {
	mu      sync.Mutex
	clients map[chan session.Snapshot]struct{}
	latest  session.Snapshot
	seen    bool
	closed  bool
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan session.Snapshot]struct{})}
}

// Render は session.Observer の実装です。
func (h *Hub) Render(snap session.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// 通知順が前後しても古い状態で上書きしない
	if h.closed || (h.seen && snap.Version < h.latest.Version) {
		return
	}
	h.latest = snap
	h.seen = true

	for ch := range h.clients {
		offer(ch, snap)
	}
}

// Subscribe は接続用のチャネルを返します。既知の最新状態があれば最初に届きます。
func (h *Hub) Subscribe() (<-chan session.Snapshot, func()) {
	ch := make(chan session.Snapshot, 1)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	if h.seen {
		ch <- h.latest
	}
	h.clients[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := h.clients[ch]; ok {
				delete(h.clients, ch)
				close(ch)
			}
			h.mu.Unlock()
		})
	}
}

// Close はすべての接続を終了させます。
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.clients {
		close(ch)
		delete(h.clients, ch)
	}
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func offer(ch chan session.Snapshot, snap session.Snapshot) {
	select {
	case ch <- snap:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}
