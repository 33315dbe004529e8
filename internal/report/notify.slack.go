package report

import (
	"context"

	"github.com/slack-go/slack"

	"coach_reconcile/internal/reconcile"
)

// SlackNotifier gửi tóm tắt run vào một channel
type SlackNotifier struct {
	api     *slack.Client
	channel string
}

// NewSlackNotifier trả về nil nếu thiếu token hoặc channel (không gửi gì)
func NewSlackNotifier(token, channel string, options ...slack.Option) *SlackNotifier {
	if token == "" || channel == "" {
		return nil
	}
	return &SlackNotifier{api: slack.New(token, options...), channel: channel}
}

// Notify gửi tóm tắt; notifier nil thì bỏ qua
func (n *SlackNotifier) Notify(ctx context.Context, r *reconcile.Report) error {
	if n == nil || r == nil {
		return nil
	}
	_, _, err := n.api.PostMessageContext(ctx, n.channel, slack.MsgOptionText(Summary(r), false))
	return err
}
