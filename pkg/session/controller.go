package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shouni/image-caption-kit/pkg/domain"
	"github.com/shouni/image-caption-kit/pkg/utils"
)

var errEmptyCaption = errors.New("caption service returned an empty caption")

// Controller は画像選択からキャプション生成、コピーまでの対話状態をすべて保持します。
// すべてのコマンドと生成完了処理は mu の下で逐次実行されます。
type Controller struct {
	captioner      Captioner
	previewer      Previewer
	clipboard      Clipboard
	clock          Clock
	errorMessage   string
	requestTimeout time.Duration

	mu        sync.Mutex
	handle    *imageHandle
	caption   string
	result    *domain.CaptionResult
	errMsg    string
	state     RequestState
	copied    bool
	copyTimer Timer
	copyGen   uint64
	handleSeq uint64
	reqSeq    uint64
	inflight  uint64 // 0 は送信中なし
	version   uint64
	closed    bool

	observers  map[uint64]Observer
	observerID uint64

	wg sync.WaitGroup
}

// NewController は Captioner を注入して Controller を生成します。
func NewController(captioner Captioner, opts ...Option) (*Controller, error) {
	if captioner == nil {
		return nil, fmt.Errorf("captioner is required")
	}

	c := &Controller{
		captioner:    captioner,
		previewer:    noopPreviewer{},
		clipboard:    discardClipboard{},
		clock:        systemClock{},
		errorMessage: DefaultErrorMessage,
		observers:    make(map[uint64]Observer),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SelectImage は画像を選択状態にします。
// ドロップ経由で画像以外が渡された場合、または空の Blob の場合は何もせず false を返します。
// 以前のプレビューは解放され、キャプションとエラーはクリアされます。リクエスト状態は変えません。
func (c *Controller) SelectImage(blob domain.Blob, kind domain.SourceKind) bool {
	if kind == domain.SourceDrop && !blob.IsImage() {
		slog.Debug("画像ではないドロップを無視しました", "name", blob.Name, "media_type", blob.MediaType)
		return false
	}
	if blob.Empty() {
		return false
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}

	locator, err := c.previewer.Allocate(blob)
	if err != nil {
		c.mu.Unlock()
		slog.Warn("プレビューの作成に失敗したため選択を取り消しました", "name", blob.Name, "error", err)
		return false
	}

	prev := c.handle
	c.handleSeq++
	c.handle = &imageHandle{id: c.handleSeq, blob: blob, locator: locator}
	if prev != nil {
		c.previewer.Release(prev.locator)
	}
	c.caption = ""
	c.result = nil
	c.errMsg = ""

	snap, obs := c.commitLocked()
	c.mu.Unlock()

	slog.Info("画像を選択しました", "source", kind.String(), "name", blob.Name,
		"media_type", blob.MediaType, "size", len(blob.Data))
	notify(obs, snap)
	return true
}

// ClearImage は選択中の画像を解放し、すべての状態を初期値に戻します。
// 画像が無ければ何もしません。
func (c *Controller) ClearImage() bool {
	c.mu.Lock()
	if c.handle == nil {
		c.mu.Unlock()
		return false
	}

	c.previewer.Release(c.handle.locator)
	c.handle = nil
	c.caption = ""
	c.result = nil
	c.errMsg = ""
	c.state = Idle
	c.inflight = 0

	snap, obs := c.commitLocked()
	c.mu.Unlock()

	notify(obs, snap)
	return true
}

// GenerateCaption は選択中の画像を非同期でキャプション生成サービスへ送ります。
// 画像が無い、または生成中の場合は何もせず false を返します。
// 完了時は成功・失敗にかかわらず Idle に戻ります。自動リトライはしません。
func (c *Controller) GenerateCaption(ctx context.Context) bool {
	c.mu.Lock()
	if c.closed || c.handle == nil || c.state == Pending {
		c.mu.Unlock()
		return false
	}

	c.state = Pending
	c.errMsg = ""
	c.reqSeq++
	req := request{seq: c.reqSeq, handleID: c.handle.id, blob: c.handle.blob}
	c.inflight = req.seq
	c.wg.Add(1)

	snap, obs := c.commitLocked()
	c.mu.Unlock()

	notify(obs, snap)
	go c.run(context.WithoutCancel(ctx), req)
	return true
}

// run は1件のリクエストを実行し、結果を complete に集約します。
func (c *Controller) run(ctx context.Context, req request) {
	defer c.wg.Done()

	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	res, err := c.invoke(ctx, req.blob)
	c.complete(ctx, req, res, err)
}

func (c *Controller) invoke(ctx context.Context, blob domain.Blob) (res *domain.CaptionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("captioner panic: %v", r)
		}
	}()

	res, err = c.captioner.Caption(ctx, blob)
	if err == nil && (res == nil || strings.TrimSpace(res.Caption) == "") {
		err = errEmptyCaption
	}
	return res, err
}

// complete は成功・失敗どちらの経路でも通る唯一の状態遷移です。
func (c *Controller) complete(ctx context.Context, req request, res *domain.CaptionResult, err error) {
	c.mu.Lock()
	if c.inflight != req.seq {
		c.mu.Unlock()
		slog.DebugContext(ctx, "破棄済みリクエストの応答を無視しました", "request", req.seq)
		return
	}

	c.inflight = 0
	c.state = Idle

	switch {
	case c.handle == nil || c.handle.id != req.handleID:
		slog.InfoContext(ctx, "画像が差し替えられたため応答を破棄しました", "request", req.seq)
	case err != nil:
		c.caption = ""
		c.result = nil
		c.errMsg = c.errorMessage
		slog.WarnContext(ctx, "キャプション生成に失敗しました",
			"request", req.seq, "image", utils.ShortHash(req.blob.Data), "error", err)
	default:
		c.caption = strings.TrimSpace(res.Caption)
		c.result = res
		c.errMsg = ""
		slog.InfoContext(ctx, "キャプションを生成しました", "request", req.seq, "caption", c.caption)
	}

	snap, obs := c.commitLocked()
	c.mu.Unlock()

	notify(obs, snap)
}

// CopyCaption はキャプションをクリップボードへ書き込み、コピー済みフラグを立てます。
// フラグは CopyResetDelay 後に戻ります。連続して呼ぶとタイマーは最後の呼び出しから数え直します。
func (c *Controller) CopyCaption(ctx context.Context) bool {
	c.mu.Lock()
	text := c.caption
	closed := c.closed
	c.mu.Unlock()
	if closed || text == "" {
		return false
	}

	if err := c.clipboard.WriteText(ctx, text); err != nil {
		slog.WarnContext(ctx, "クリップボードへの書き込みに失敗しました", "error", err)
		return false
	}

	c.mu.Lock()
	// 書き込み中に画像やキャプションが変わっていたら、古い文字列にフラグを立てない
	if c.closed || c.caption != text {
		c.mu.Unlock()
		return false
	}
	if c.copyTimer != nil {
		c.copyTimer.Stop()
	}
	c.copyGen++
	gen := c.copyGen
	c.copied = true
	c.copyTimer = c.clock.AfterFunc(CopyResetDelay, func() { c.resetCopied(gen) })

	snap, obs := c.commitLocked()
	c.mu.Unlock()

	notify(obs, snap)
	return true
}

func (c *Controller) resetCopied(gen uint64) {
	c.mu.Lock()
	// Stop が間に合わなかった古いタイマーは世代で弾く
	if gen != c.copyGen || !c.copied {
		c.mu.Unlock()
		return
	}
	c.copied = false
	c.copyTimer = nil

	snap, obs := c.commitLocked()
	c.mu.Unlock()

	notify(obs, snap)
}

// Snapshot は現在の状態を返します。
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe はビューを登録し、直後に現在の状態で一度描画させます。
// 戻り値の関数で登録を解除します。
func (c *Controller) Subscribe(o Observer) (cancel func()) {
	c.mu.Lock()
	c.observerID++
	id := c.observerID
	c.observers[id] = o
	snap := c.snapshotLocked()
	c.mu.Unlock()

	o.Render(snap)

	return func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.mu.Unlock()
	}
}

// Wait は送信中のリクエストがすべて完了するまで待ちます。
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close はタイマーを止め、プレビューを解放します。以後のコマンドは無視されます。
// 送信中の応答は破棄されます。
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.copyTimer != nil {
		c.copyTimer.Stop()
		c.copyTimer = nil
	}
	if c.handle != nil {
		c.previewer.Release(c.handle.locator)
		c.handle = nil
	}
	c.caption = ""
	c.result = nil
	c.errMsg = ""
	c.state = Idle
	c.inflight = 0
	c.copied = false
	c.mu.Unlock()
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		Caption: c.caption,
		Error:   c.errMsg,
		State:   c.state,
		Copied:  c.copied,
		Version: c.version,
	}
	if c.handle != nil {
		snap.HasImage = true
		snap.PreviewLocator = c.handle.locator
		snap.ImageName = c.handle.blob.Name
		snap.MediaType = c.handle.blob.MediaType
		snap.ImageSize = len(c.handle.blob.Data)
	}
	if c.result != nil {
		r := *c.result
		snap.Result = &r
	}
	return snap
}

func (c *Controller) commitLocked() (Snapshot, []Observer) {
	c.version++
	obs := make([]Observer, 0, len(c.observers))
	for _, o := range c.observers {
		obs = append(obs, o)
	}
	return c.snapshotLocked(), obs
}

func notify(obs []Observer, snap Snapshot) {
	for _, o := range obs {
		o.Render(snap)
	}
}
