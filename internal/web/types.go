package web

import (
	"context"

	"github.com/shouni/image-caption-kit/pkg/domain"
	"github.com/shouni/image-caption-kit/pkg/session"
)

// Controller は Web 層から操作するセッションです。*session.Controller が満たします。
type Controller interface {
	SelectImage(blob domain.Blob, kind domain.SourceKind) bool
	ClearImage() bool
	GenerateCaption(ctx context.Context) bool
	CopyCaption(ctx context.Context) bool
	Snapshot() session.Snapshot
	Subscribe(o session.Observer) (cancel func())
}

// PreviewSource はロケーター ID から画像を引きます。
type PreviewSource interface {
	Open(id string) (domain.Blob, bool)
}

// ErrorResponse はエラー時の JSON です。
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// CommandResponse はコマンド系エンドポイントの応答です。
// 前提条件を満たさないコマンドはエラーではなく Accepted=false で返ります。
type CommandResponse struct {
	Accepted bool             `json:"accepted"`
	State    session.Snapshot `json:"state"`
}
