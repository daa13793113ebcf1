// Package relationship layers a familiarity/trust/intimacy progression
// onto the demo reply pipeline's conversations, adapted from the
// teacher's service/relationship package onto string account/sender
// identifiers and a context-carrying evaluation call.
package relationship

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gorm.io/gorm"
	openai "github.com/sashabaranov/go-openai"

	"github.com/qqbot-core/gateway/storage"
)

// Service exposes the relationship-aware system prompt and the
// post-reply evaluation step to the reply pipeline.
type Service struct {
	evaluator *Evaluator
	db        *gorm.DB
}

// New builds a Service over client and db.
func New(client *openai.Client, db *gorm.DB) *Service {
	return &Service{evaluator: NewEvaluator(client, db), db: db}
}

// StagePrompt returns the system prompt for the conversation's current
// relationship stage, with the live scores injected.
func (s *Service) StagePrompt(accountID, senderID, groupOpenid string) (string, error) {
	rel, err := s.evaluator.GetOrCreateRelationship(accountID, senderID, groupOpenid)
	if err != nil {
		return "", err
	}

	base, err := loadBasePrompt()
	if err != nil {
		return "", err
	}
	stage, err := loadStagePrompt(rel.Stage)
	if err != nil {
		return "", err
	}
	stage = injectScores(stage, rel)

	return base + "\n\n" + stage, nil
}

func loadStagePrompt(stage int) (string, error) {
	names := map[int]string{1: "stranger", 2: "familiar", 3: "close", 4: "intimate"}
	name, ok := names[stage]
	if !ok {
		return "", fmt.Errorf("relationship: invalid stage %d", stage)
	}
	data, err := os.ReadFile(fmt.Sprintf("system_prompts/stage_%d_%s.txt", stage, name))
	if err != nil {
		return "", fmt.Errorf("relationship: read stage prompt: %w", err)
	}
	return string(data), nil
}

func loadBasePrompt() (string, error) {
	data, err := os.ReadFile("system_prompts/base.txt")
	if err != nil {
		return "", fmt.Errorf("relationship: read base prompt: %w", err)
	}
	return string(data), nil
}

func injectScores(prompt string, rel *storage.UserRelationship) string {
	info := fmt.Sprintf("当前分数 [熟悉%.1f 信任%.1f 亲密%.1f] - ", rel.Familiarity, rel.Trust, rel.Intimacy)
	const marker = "系统分析："
	if idx := strings.Index(prompt, marker); idx >= 0 {
		return prompt[:idx] + marker + info + prompt[idx+len(marker):]
	}
	return prompt
}

// EvaluateAndUpdate scores the latest turn and persists the result.
func (s *Service) EvaluateAndUpdate(ctx context.Context, accountID, senderID, groupOpenid, userMsg, aiMsg string) (*EvaluationResult, error) {
	history, err := s.recentHistory(accountID, senderID, groupOpenid, 10)
	if err != nil {
		history = nil
	}
	return s.evaluator.Evaluate(ctx, accountID, senderID, groupOpenid, userMsg, aiMsg, history)
}

func (s *Service) recentHistory(accountID, senderID, groupOpenid string, limit int) ([]storage.ChatHistory, error) {
	var rows []storage.ChatHistory
	err := s.db.Where("account_id = ? AND sender_id = ? AND group_openid = ?", accountID, senderID, groupOpenid).
		Order("created_at DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

// Status returns the conversation's current relationship row.
func (s *Service) Status(accountID, senderID, groupOpenid string) (*storage.UserRelationship, error) {
	return s.evaluator.GetOrCreateRelationship(accountID, senderID, groupOpenid)
}
