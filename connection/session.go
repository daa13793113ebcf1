package connection

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/qqbot-core/gateway/utils"
)

// SessionState is the record GatewayFSM persists per account (the five
// session fields of spec.md §3/§4.10 plus the SavedAt stamp).
type SessionState struct {
	AccountID        string    `json:"accountId"`
	SessionID        string    `json:"sessionId"`
	LastSeq          int64     `json:"lastSeq"`
	LastConnectedAt  time.Time `json:"lastConnectedAt"`
	IntentLevelIndex int       `json:"intentLevelIndex"`
	SavedAt          time.Time `json:"savedAt"`
}

// hasSession reports whether a Resume attempt is possible.
func (s SessionState) hasSession() bool {
	return s.SessionID != "" && s.LastSeq > 0
}

// SessionStore persists SessionState keyed by accountId, with writes
// coalesced in memory and flushed periodically rather than fsync'd on
// every update, per spec.md §4.10.
type SessionStore struct {
	dir string
	log *zap.Logger

	mu     sync.Mutex
	states map[string]SessionState
	dirty  map[string]bool
}

// NewSessionStore creates a store persisting under dir (one JSON file
// per account).
func NewSessionStore(dir string) *SessionStore {
	return &SessionStore{
		dir:    dir,
		log:    utils.With(zap.String("component", "connection.SessionStore")),
		states: make(map[string]SessionState),
		dirty:  make(map[string]bool),
	}
}

func (s *SessionStore) path(accountID string) string {
	return filepath.Join(s.dir, accountID+".json")
}

// Load returns the persisted state for accountID, reading from disk on
// first access and caching thereafter.
func (s *SessionStore) Load(accountID string) (SessionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.states[accountID]; ok {
		return st, true
	}

	data, err := os.ReadFile(s.path(accountID))
	if err != nil {
		return SessionState{}, false
	}
	var st SessionState
	if err := json.Unmarshal(data, &st); err != nil {
		s.log.Warn("corrupt session state, ignoring", zap.String("accountId", accountID), zap.Error(err))
		return SessionState{}, false
	}
	s.states[accountID] = st
	return st, true
}

// Save updates the in-memory state for accountID and marks it dirty;
// the next periodic flush writes it to disk.
func (s *SessionStore) Save(st SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st.SavedAt = time.Now()
	s.states[st.AccountID] = st
	s.dirty[st.AccountID] = true
}

// ClearSession drops sessionId/lastSeq for accountID while leaving
// IntentLevelIndex untouched, per spec.md §4.7 step 11 (unresumable
// invalid session).
func (s *SessionStore) ClearSession(accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.states[accountID]
	st.AccountID = accountID
	st.SessionID = ""
	st.LastSeq = 0
	st.SavedAt = time.Now()
	s.states[accountID] = st
	s.dirty[accountID] = true
}

// Flush writes every dirty state to disk.
func (s *SessionStore) Flush() {
	s.mu.Lock()
	dirty := s.dirty
	s.dirty = make(map[string]bool)
	var toWrite []SessionState
	for id := range dirty {
		toWrite = append(toWrite, s.states[id])
	}
	s.mu.Unlock()

	for _, st := range toWrite {
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			s.log.Warn("create session dir failed", zap.Error(err))
			continue
		}
		data, err := json.Marshal(st)
		if err != nil {
			continue
		}
		// Write-then-rename so a crash mid-flush never leaves a
		// half-written session file; the uuid suffix keeps a stray
		// temp file from colliding with a concurrent flush of another
		// account sharing this directory.
		tmp := s.path(st.AccountID) + "." + uuid.NewString() + ".tmp"
		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			s.log.Warn("persist session state failed", zap.String("accountId", st.AccountID), zap.Error(err))
			continue
		}
		if err := os.Rename(tmp, s.path(st.AccountID)); err != nil {
			s.log.Warn("rename session state failed", zap.String("accountId", st.AccountID), zap.Error(err))
			os.Remove(tmp)
		}
	}
}

// RunDebouncedFlush periodically flushes dirty state until done is
// closed, then flushes once more.
func (s *SessionStore) RunDebouncedFlush(done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			s.Flush()
			return
		case <-ticker.C:
			s.Flush()
		}
	}
}
