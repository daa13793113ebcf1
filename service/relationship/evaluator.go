package relationship

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	openai "github.com/sashabaranov/go-openai"
	"gorm.io/gorm"

	"github.com/qqbot-core/gateway/storage"
	"github.com/qqbot-core/gateway/utils"
)

// EvaluationResult is the scored delta an AI evaluation (or its
// fallback) applies to one sender's relationship.
type EvaluationResult struct {
	FamiliarityChange float64 `json:"familiarity_change"`
	TrustChange       float64 `json:"trust_change"`
	IntimacyChange    float64 `json:"intimacy_change"`
	IsKeyMoment       bool    `json:"is_key_moment"`
	Reason            string  `json:"reason"`
}

// conversationKey identifies one relationship row's scope.
type conversationKey struct {
	accountID   string
	senderID    string
	groupOpenid string
}

// Evaluator scores each conversation turn's effect on the sender's
// familiarity/trust/intimacy and advances their relationship stage,
// adapted from the teacher's service/relationship.Evaluator onto
// string account/sender identifiers.
type Evaluator struct {
	client     *openai.Client
	db         *gorm.DB
	basePrompt string
	locks      sync.Map // map[conversationKey]*sync.Mutex
	log        *zap.Logger
}

// NewEvaluator builds an Evaluator over client and db, loading its base
// evaluation prompt from system_prompts/evaluator.txt if present.
func NewEvaluator(client *openai.Client, db *gorm.DB) *Evaluator {
	return &Evaluator{
		client:     client,
		db:         db,
		basePrompt: loadEvaluatorPrompt(),
		log:        utils.With(zap.String("component", "relationship.Evaluator")),
	}
}

func loadEvaluatorPrompt() string {
	data, err := os.ReadFile("system_prompts/evaluator.txt")
	if err != nil {
		return "你是人际关系专家，基于生物学和心理学原理评估对话。"
	}
	return string(data)
}

// GetOrCreateRelationship returns the relationship row for the given
// conversation, creating a fresh stage-1 row if none exists.
func (e *Evaluator) GetOrCreateRelationship(accountID, senderID, groupOpenid string) (*storage.UserRelationship, error) {
	var rel storage.UserRelationship
	err := e.db.Where("account_id = ? AND sender_id = ? AND group_openid = ?", accountID, senderID, groupOpenid).
		First(&rel).Error
	if err == gorm.ErrRecordNotFound {
		rel = storage.UserRelationship{
			AccountID:           accountID,
			SenderID:            senderID,
			GroupOpenid:         groupOpenid,
			Stage:               1,
			EvaluationThreshold: 1,
		}
		if err := e.db.Create(&rel).Error; err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}
	return &rel, nil
}

func (e *Evaluator) lockFor(key conversationKey) *sync.Mutex {
	lock, _ := e.locks.LoadOrStore(key, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// Evaluate scores one conversation turn and persists the updated
// relationship. If the conversation's accumulated-turn count has not
// yet reached its evaluation threshold, no AI call is made and the
// result reports a no-op ("累计中").
func (e *Evaluator) Evaluate(ctx context.Context, accountID, senderID, groupOpenid, userMsg, aiMsg string, recentHistory []storage.ChatHistory) (*EvaluationResult, error) {
	key := conversationKey{accountID, senderID, groupOpenid}
	lock := e.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	rel, err := e.GetOrCreateRelationship(accountID, senderID, groupOpenid)
	if err != nil {
		return nil, fmt.Errorf("relationship: load: %w", err)
	}

	rel.AccumulatedCount++
	rel.TotalMessages++

	if rel.AccumulatedCount < rel.EvaluationThreshold {
		if err := e.db.Save(rel).Error; err != nil {
			return nil, err
		}
		return &EvaluationResult{Reason: fmt.Sprintf("累计中(%d/%d)", rel.AccumulatedCount, rel.EvaluationThreshold)}, nil
	}

	prompt := e.buildEvaluationPrompt(rel, recentHistory, userMsg, aiMsg)
	result, err := e.callAIEvaluator(ctx, prompt)
	if err != nil {
		e.log.Warn("AI evaluation failed, using fallback", zap.Error(err))
		result = fallbackEvaluation(userMsg)
	}

	rel.AccumulatedCount = 0
	if err := e.updateRelationship(rel, result); err != nil {
		return nil, fmt.Errorf("relationship: update: %w", err)
	}
	return result, nil
}

func (e *Evaluator) buildEvaluationPrompt(rel *storage.UserRelationship, history []storage.ChatHistory, userMsg, aiMsg string) string {
	return fmt.Sprintf(`%s

【当前关系状态】
阶段: %s (Stage %d)
熟悉度: %.1f/100
信任度: %.1f/100
亲密度: %.1f/100
对话轮数: %d

【对话历史】（最近%d条）
%s

【最新一轮】
用户: %s
回复: %s

基于以上信息，评估最新一轮对话对关系的影响。仅输出JSON:
{"familiarity_change": 数字, "trust_change": 数字, "intimacy_change": 数字, "is_key_moment": true/false, "reason": "简短分析"}`,
		e.basePrompt,
		stageName(rel.Stage), rel.Stage,
		rel.Familiarity, rel.Trust, rel.Intimacy,
		rel.TotalMessages,
		len(history), formatHistory(history),
		userMsg, aiMsg,
	)
}

func (e *Evaluator) callAIEvaluator(ctx context.Context, prompt string) (*EvaluationResult, error) {
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       openai.GPT3Dot5Turbo,
		Messages:    []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: prompt}},
		MaxTokens:   200,
		Temperature: 0.3,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("relationship: empty evaluation response")
	}
	var result EvaluationResult
	if err := parseEvaluationJSON(resp.Choices[0].Message.Content, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func parseEvaluationJSON(content string, result *EvaluationResult) error {
	if err := json.Unmarshal([]byte(content), result); err == nil {
		return nil
	}
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || start >= end {
		return fmt.Errorf("relationship: no JSON object in response")
	}
	return json.Unmarshal([]byte(content[start:end+1]), result)
}

// fallbackEvaluation applies a crude length-based heuristic when the AI
// evaluation call fails, so a relationship never stalls because of a
// transient backend error.
func fallbackEvaluation(userMsg string) *EvaluationResult {
	if len([]rune(userMsg)) > 20 {
		return &EvaluationResult{FamiliarityChange: 5, TrustChange: 3, IntimacyChange: 1, Reason: "降级规则评估"}
	}
	return &EvaluationResult{FamiliarityChange: 2, Reason: "简短对话"}
}

func (e *Evaluator) updateRelationship(rel *storage.UserRelationship, result *EvaluationResult) error {
	rel.Familiarity = clamp(rel.Familiarity+result.FamiliarityChange, 0, 100)
	rel.Trust = clamp(rel.Trust+result.TrustChange, 0, 100)
	rel.Intimacy = clamp(rel.Intimacy+result.IntimacyChange, 0, 100)

	oldStage := rel.Stage
	checkStageUpgrade(rel)
	updateEvaluationThreshold(rel)

	if err := e.db.Save(rel).Error; err != nil {
		return err
	}
	if rel.Stage > oldStage {
		e.log.Info("relationship stage advanced",
			zap.String("senderId", rel.SenderID), zap.Int("from", oldStage), zap.Int("to", rel.Stage))
	}
	return nil
}

func checkStageUpgrade(rel *storage.UserRelationship) {
	if rel.Stage == 1 && rel.Familiarity >= 25 && rel.Trust >= 15 {
		rel.Stage = 2
	}
	if rel.Stage == 2 && rel.Familiarity >= 55 && rel.Trust >= 45 && rel.Intimacy >= 25 {
		rel.Stage = 3
	}
	if rel.Stage == 3 && rel.Familiarity >= 75 && rel.Trust >= 65 && rel.Intimacy >= 50 {
		rel.Stage = 4
	}
}

var stageThresholds = map[int]int{1: 1, 2: 2, 3: 3, 4: 2}

func updateEvaluationThreshold(rel *storage.UserRelationship) {
	if threshold, ok := stageThresholds[rel.Stage]; ok {
		rel.EvaluationThreshold = threshold
	}
}

func formatHistory(history []storage.ChatHistory) string {
	if len(history) == 0 {
		return "（暂无历史对话）"
	}
	var sb strings.Builder
	for i := 0; i+1 < len(history); i += 2 {
		sb.WriteString(fmt.Sprintf("用户: %s\nAI: %s\n", history[i].Content, history[i+1].Content))
	}
	return sb.String()
}

var stageNames = map[int]string{1: "陌生期", 2: "熟悉期", 3: "亲近期", 4: "暧昧期"}

func stageName(stage int) string {
	if name, ok := stageNames[stage]; ok {
		return name
	}
	return "未知"
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
