package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/qqbot-core/gateway/protocol"
)

// SendMedia uploads src and sends it via a msg_type=7 rich-media
// message, then follows up with intent.Text as a separate message if
// non-empty. A text-send failure never unwinds the image send, per
// spec.md §4.5.
func (d *Dispatcher) SendMedia(ctx context.Context, intent protocol.OutboundIntent, src protocol.MediaSource) (protocol.OutboundResult, error) {
	target, ok := protocol.ParseTarget(intent.Target)
	if !ok {
		return protocol.OutboundResult{}, &protocol.PayloadInvalidError{Reason: "unparseable target: " + intent.Target}
	}

	if target.Kind == protocol.TargetChannel {
		return d.sendChannelMediaFallback(ctx, intent, src)
	}

	passive, intent := d.resolvePassive(intent)

	if !passive && !d.quota.Allow(target.ID) {
		return protocol.OutboundResult{}, &protocol.QuotaExhaustedError{Reason: "active message quota exceeded for " + target.ID}
	}

	tok, err := d.tokens.GetAccessToken(ctx, d.appID, d.clientSecret)
	if err != nil {
		return protocol.OutboundResult{}, err
	}

	fileInfo, err := d.uploader.Upload(ctx, tok, target, src)
	if err != nil {
		return protocol.OutboundResult{}, err
	}

	path, ok := endpointPath(target)
	if !ok {
		return protocol.OutboundResult{}, &protocol.PayloadInvalidError{Reason: "unroutable target kind"}
	}

	msgSeq := d.seq.Next(seqKey(intent, target))
	body := protocol.MediaBody{
		Media:   protocol.MediaField{FileInfo: fileInfo},
		MsgType: protocol.MsgTypeMedia,
		MsgSeq:  msgSeq,
		MsgID:   msgIDField(intent, passive),
	}

	out, err := d.doSend(ctx, path, body)
	if err != nil {
		return protocol.OutboundResult{}, err
	}
	if passive {
		d.limiter.RecordReply(intent.ReplyToID, time.Now())
	}
	result := toResult(out)

	if intent.Text != "" {
		followUp := intent
		followUp.MediaURLs = nil
		if _, err := d.SendText(ctx, followUp); err != nil {
			d.log.Warn("media follow-up text send failed, image already sent",
				zap.String("messageId", intent.ReplyToID), zap.Error(err))
		}
	}

	return result, nil
}

// sendChannelMediaFallback handles the "channels do not accept rich
// media" rule: a public-URL source is appended to the text as a URL
// suffix; any other source (LocalPath, DataURL) is replaced with a
// placeholder, per spec.md §4.5.
func (d *Dispatcher) sendChannelMediaFallback(ctx context.Context, intent protocol.OutboundIntent, src protocol.MediaSource) (protocol.OutboundResult, error) {
	switch src.Kind {
	case protocol.MediaPublicURL:
		intent.Text = fmt.Sprintf("%s\n%s", intent.Text, src.Value)
	default:
		intent.Text = fmt.Sprintf("%s\n[图片无法在频道消息中显示]", intent.Text)
	}
	return d.SendText(ctx, intent)
}
