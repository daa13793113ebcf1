package bot

import (
	"context"

	"go.uber.org/zap"

	"github.com/qqbot-core/gateway/media"
	"github.com/qqbot-core/gateway/protocol"
)

// replyCallbacks is the account's pipeline.ReplyCallbacks implementation:
// it runs ImageResolver inside Deliver (spec.md §4.6) before routing to
// the OutboundDispatcher, and records host activity for both outcomes.
type replyCallbacks struct {
	account *Account
}

func (c *replyCallbacks) Deliver(ctx context.Context, intent protocol.OutboundIntent) (protocol.OutboundResult, error) {
	resolved := media.Resolve(intent.Text, intent.MediaURLs)

	base := intent
	base.MediaURLs = nil

	target, _ := protocol.ParseTarget(intent.Target)
	embed, upload := c.partitionImages(target, resolved.Images)

	text := resolved.Text
	for _, img := range embed {
		text = c.account.uploader.MarkdownLiteral(ctx, img.Value) + "\n" + text
	}

	var result protocol.OutboundResult
	var err error

	if len(upload) == 0 {
		base.Text = text
		result, err = c.account.dispatcher.SendText(ctx, base)
	} else {
		for i, img := range upload {
			mediaIntent := base
			mediaIntent.Text = ""
			if i == len(upload)-1 {
				mediaIntent.Text = text
			}
			result, err = c.account.dispatcher.SendMedia(ctx, mediaIntent, img)
			if err != nil {
				break
			}
		}
	}

	c.recordOutbound("deliver", intent, err)
	return result, err
}

// partitionImages splits resolved images into ones to embed directly as
// a markdown image literal (public-URL images on a markdown-enabled
// C2C target, per spec.md §4.5) and ones that still need the
// rich-media upload path (group/channel targets, or any source the
// platform can't reach by URL alone).
func (c *replyCallbacks) partitionImages(target protocol.Target, images []protocol.MediaSource) (embed, upload []protocol.MediaSource) {
	if !c.account.cfg.MarkdownSupport || target.Kind != protocol.TargetC2C {
		return nil, images
	}
	for _, img := range images {
		if img.Kind == protocol.MediaPublicURL {
			embed = append(embed, img)
		} else {
			upload = append(upload, img)
		}
	}
	return embed, upload
}

func (c *replyCallbacks) OnPartialReply(ctx context.Context, intent protocol.OutboundIntent, done bool) (protocol.OutboundResult, error) {
	result, err := c.account.dispatcher.SendStreamChunk(ctx, intent, done)
	c.recordOutbound("stream", intent, err)
	return result, err
}

func (c *replyCallbacks) recordOutbound(kind string, intent protocol.OutboundIntent, err error) {
	detail := map[string]string{"target": intent.Target}
	if err != nil {
		detail["error"] = err.Error()
		c.account.log.Warn("outbound send failed", zap.String("kind", kind), zap.String("target", intent.Target), zap.Error(err))
	}
	c.account.host.RecordActivity(c.account.cfg.ID, "outbound:"+kind, detail)
}
