package refpipeline

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/qqbot-core/gateway/pipeline"
	"github.com/qqbot-core/gateway/protocol"
)

// handleCommand dispatches a leading-slash message, adapted from the
// teacher's service/message.handleCommand switch.
func (p *Pipeline) handleCommand(ctx context.Context, event protocol.InboundEvent, cb pipeline.ReplyCallbacks, cmd string) error {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return nil
	}

	switch fields[0] {
	case "/help":
		return p.deliver(ctx, event, cb, helpText)
	case "/ping":
		return p.deliver(ctx, event, cb, "pong!")
	case "/about":
		return p.deliver(ctx, event, cb, "QQ Bot 网关连接器\n支持AI对话与关系记忆")
	case "/clear":
		return p.handleClear(ctx, event, cb)
	default:
		return p.deliver(ctx, event, cb, "未知命令: "+fields[0]+"\n输入 /help 查看可用命令")
	}
}

const helpText = "可用命令:\n/help - 显示帮助\n/ping - 测试连接\n/about - 关于本机器人\n/clear - 清空对话历史"

func (p *Pipeline) handleClear(ctx context.Context, event protocol.InboundEvent, cb pipeline.ReplyCallbacks) error {
	if p.history == nil {
		return p.deliver(ctx, event, cb, "对话历史未启用")
	}
	if err := p.history.ClearConversation(event.AccountID, event.SenderID, event.GroupOpenid); err != nil {
		p.log.Warn("failed to clear conversation history", zap.Error(err))
		return p.deliver(ctx, event, cb, "清空历史失败")
	}
	return p.deliver(ctx, event, cb, "已清空您的对话历史")
}
