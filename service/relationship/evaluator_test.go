package relationship

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/glebarez/sqlite"
	openai "github.com/sashabaranov/go-openai"
	"gorm.io/gorm"

	"github.com/qqbot-core/gateway/storage"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open in-memory sqlite: %v", err)
	}
	if err := db.AutoMigrate(&storage.UserRelationship{}, &storage.ChatHistory{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func mockEvaluationServer(t *testing.T, result EvaluationResult) *httptest.Server {
	t.Helper()
	body, err := json.Marshal(result)
	if err != nil {
		t.Fatal(err)
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: string(body)}},
			},
		})
	}))
}

func newTestClient(baseURL string) *openai.Client {
	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = baseURL
	return openai.NewClientWithConfig(cfg)
}

func TestGetOrCreateRelationship_CreatesStageOne(t *testing.T) {
	e := NewEvaluator(nil, newTestDB(t))

	rel, err := e.GetOrCreateRelationship("acct", "u1", "")
	if err != nil {
		t.Fatalf("GetOrCreateRelationship: %v", err)
	}
	if rel.Stage != 1 || rel.EvaluationThreshold != 1 {
		t.Errorf("rel = %+v, want fresh stage-1 row", rel)
	}

	again, err := e.GetOrCreateRelationship("acct", "u1", "")
	if err != nil {
		t.Fatalf("GetOrCreateRelationship (again): %v", err)
	}
	if again.ID != rel.ID {
		t.Errorf("expected the same row to be returned on a second call, got a new id")
	}
}

func TestEvaluate_BelowThresholdSkipsAICall(t *testing.T) {
	db := newTestDB(t)
	e := NewEvaluator(nil, db) // nil client: a real AI call here would panic/nil-deref

	rel, _ := e.GetOrCreateRelationship("acct", "u1", "")
	rel.EvaluationThreshold = 3
	db.Save(rel)

	result, err := e.Evaluate(context.Background(), "acct", "u1", "", "hi", "hello", nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.FamiliarityChange != 0 {
		t.Errorf("expected a no-op result below threshold, got %+v", result)
	}
}

func TestEvaluate_AtThresholdCallsAIAndUpdatesScores(t *testing.T) {
	srv := mockEvaluationServer(t, EvaluationResult{FamiliarityChange: 10, TrustChange: 5, IntimacyChange: 1})
	defer srv.Close()

	db := newTestDB(t)
	e := NewEvaluator(newTestClient(srv.URL), db)

	result, err := e.Evaluate(context.Background(), "acct", "u1", "", "hi", "hello", nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.FamiliarityChange != 10 {
		t.Errorf("result = %+v, want FamiliarityChange=10", result)
	}

	rel, err := e.GetOrCreateRelationship("acct", "u1", "")
	if err != nil {
		t.Fatal(err)
	}
	if rel.Familiarity != 10 || rel.Trust != 5 || rel.Intimacy != 1 {
		t.Errorf("rel = %+v, want scores applied", rel)
	}
	if rel.AccumulatedCount != 0 {
		t.Errorf("AccumulatedCount = %d, want reset to 0 after evaluation", rel.AccumulatedCount)
	}
}

func TestEvaluate_FallsBackOnAIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	db := newTestDB(t)
	e := NewEvaluator(newTestClient(srv.URL), db)

	result, err := e.Evaluate(context.Background(), "acct", "u1", "", "a very long user message indeed", "reply", nil)
	if err != nil {
		t.Fatalf("Evaluate should fall back, not error: %v", err)
	}
	if result.FamiliarityChange <= 0 {
		t.Errorf("expected the length-based fallback to award some familiarity, got %+v", result)
	}
}

func TestCheckStageUpgrade(t *testing.T) {
	rel := &storage.UserRelationship{Stage: 1, Familiarity: 25, Trust: 15}
	checkStageUpgrade(rel)
	if rel.Stage != 2 {
		t.Errorf("Stage = %d, want 2", rel.Stage)
	}
}

func TestClamp(t *testing.T) {
	if got := clamp(150, 0, 100); got != 100 {
		t.Errorf("clamp(150,0,100) = %v, want 100", got)
	}
	if got := clamp(-5, 0, 100); got != 0 {
		t.Errorf("clamp(-5,0,100) = %v, want 0", got)
	}
}
