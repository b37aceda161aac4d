package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shouni/image-caption-kit/pkg/domain"
	"github.com/stretchr/testify/require"
)

// --- Mocks ---

type captionReply struct {
	res *domain.CaptionResult
	err error
}

// fakeCaptioner は呼び出しごとにゲートを作り、テスト側から個別に応答させるのだ。
type fakeCaptioner struct {
	mu    sync.Mutex
	blobs []domain.Blob
	gates []chan captionReply
}

func (f *fakeCaptioner) Caption(ctx context.Context, blob domain.Blob) (*domain.CaptionResult, error) {
	gate := make(chan captionReply, 1)
	f.mu.Lock()
	f.blobs = append(f.blobs, blob)
	f.gates = append(f.gates, gate)
	f.mu.Unlock()

	select {
	case r := <-gate:
		return r.res, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeCaptioner) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.gates)
}

func (f *fakeCaptioner) waitCalls(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return f.calls() >= n }, time.Second, time.Millisecond)
}

func (f *fakeCaptioner) reply(i int, res *domain.CaptionResult, err error) {
	f.mu.Lock()
	gate := f.gates[i]
	f.mu.Unlock()
	gate <- captionReply{res: res, err: err}
}

// drain は応答待ちのまま残った呼び出しをすべて失敗させるのだ。
func (f *fakeCaptioner) drain() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, gate := range f.gates {
		select {
		case gate <- captionReply{err: errBackend}:
		default:
		}
	}
}

type fakePreviewer struct {
	mu       sync.Mutex
	seq      int
	live     map[string]bool
	released []string
	failNext error
}

func newFakePreviewer() *fakePreviewer {
	return &fakePreviewer{live: make(map[string]bool)}
}

func (p *fakePreviewer) Allocate(blob domain.Blob) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failNext != nil {
		err := p.failNext
		p.failNext = nil
		return "", err
	}
	p.seq++
	loc := fmt.Sprintf("blob:%d", p.seq)
	p.live[loc] = true
	return loc, nil
}

func (p *fakePreviewer) Release(locator string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.live, locator)
	p.released = append(p.released, locator)
}

func (p *fakePreviewer) liveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}

type fakeClipboard struct {
	mu     sync.Mutex
	writes []string
	err    error
	// onWrite は書き込み直後、ロックの外で呼ばれるのだ
	onWrite func(text string)
}

func (f *fakeClipboard) WriteText(ctx context.Context, text string) error {
	f.mu.Lock()
	if f.err != nil {
		f.mu.Unlock()
		return f.err
	}
	f.writes = append(f.writes, text)
	hook := f.onWrite
	f.mu.Unlock()

	if hook != nil {
		hook(text)
	}
	return nil
}

// fakeClock は Advance で時間を進めるまでタイマーを発火させないのだ。
type fakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []func()
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.at <= c.now {
			t.fired = true
			due = append(due, t.f)
		}
	}
	c.mu.Unlock()

	for _, f := range due {
		f()
	}
}

type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) Render(snap Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snap)
}

func (r *recorder) last() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snaps[len(r.snaps)-1]
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

var errBackend = errors.New("backend http 500")

func pngBlob(name string) domain.Blob {
	return domain.Blob{Name: name, MediaType: "image/png", Data: []byte("\x89PNG\r\n\x1a\n" + name)}
}
