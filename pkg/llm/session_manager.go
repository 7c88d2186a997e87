package llm

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
)

var filenameSafeRegex = regexp.MustCompile(`[^a-zA-Z0-9_\-]`)

// SessionManager manages multiple conversation histories isolated by session ID.
// With an empty storage directory histories live in memory only.
type SessionManager struct {
	histories map[string]*ChatHistory
	storage   string
	mu        sync.RWMutex

	lockMu sync.Mutex
	locks  map[string]*sessionLock
}

// sessionLock serializes work on one session; refs counts holders and
// waiters so idle entries can be dropped.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewSessionManager initializes a SessionManager with a specific storage directory.
func NewSessionManager(storage string) *SessionManager {
	if storage != "" {
		if err := os.MkdirAll(storage, 0755); err != nil {
			slog.Error("Failed to create history storage, persistence disabled", "dir", storage, "error", err)
			storage = ""
		}
	}
	return &SessionManager{
		histories: make(map[string]*ChatHistory),
		storage:   storage,
		locks:     make(map[string]*sessionLock),
	}
}

// GetHistory retrieves an existing ChatHistory for a session or creates/loads a new one.
func (sm *SessionManager) GetHistory(sessionID string) (*ChatHistory, error) {
	sm.mu.RLock()
	h, ok := sm.histories[sessionID]
	sm.mu.RUnlock()

	if ok {
		return h, nil
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	// Double check under lock
	if h, ok = sm.histories[sessionID]; ok {
		return h, nil
	}

	h = NewChatHistory()
	if sm.storage != "" {
		if err := h.Load(sm.historyPath(sessionID)); err != nil {
			return nil, err
		}
	}

	sm.histories[sessionID] = h
	return h, nil
}

// Lookup returns the history of an existing session, loading it from disk
// when persisted, or nil when the session has never been used.
func (sm *SessionManager) Lookup(sessionID string) (*ChatHistory, error) {
	sm.mu.RLock()
	h, ok := sm.histories[sessionID]
	sm.mu.RUnlock()
	if ok {
		return h, nil
	}
	if sm.storage == "" {
		return nil, nil
	}
	if _, err := os.Stat(sm.historyPath(sessionID)); err != nil {
		return nil, nil
	}
	return sm.GetHistory(sessionID)
}

// Lock acquires the per-session lock and returns its release function.
// Turns and clears of the same session never interleave.
func (sm *SessionManager) Lock(sessionID string) (unlock func()) {
	sm.lockMu.Lock()
	l, ok := sm.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		sm.locks[sessionID] = l
	}
	l.refs++
	sm.lockMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		sm.lockMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(sm.locks, sessionID)
		}
		sm.lockMu.Unlock()
	}
}

// lockCount reports how many session locks are tracked.
func (sm *SessionManager) lockCount() int {
	sm.lockMu.Lock()
	defer sm.lockMu.Unlock()
	return len(sm.locks)
}

// SaveSession persists a specific session's history to disk.
func (sm *SessionManager) SaveSession(sessionID string) error {
	sm.mu.RLock()
	h, ok := sm.histories[sessionID]
	sm.mu.RUnlock()

	if !ok || sm.storage == "" {
		return nil
	}
	return h.Save(sm.historyPath(sessionID))
}

// Clear empties a session's history, persists the empty state and
// returns the number of removed messages. It waits for a running turn of
// the session; unknown sessions are left uncreated.
func (sm *SessionManager) Clear(sessionID string) (int, error) {
	unlock := sm.Lock(sessionID)
	defer unlock()

	h, err := sm.Lookup(sessionID)
	if err != nil || h == nil {
		return 0, err
	}
	n := h.Clear()
	return n, sm.SaveSession(sessionID)
}

// Sessions lists the IDs of sessions loaded in memory, sorted.
func (sm *SessionManager) Sessions() []string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	ids := make([]string, 0, len(sm.histories))
	for id := range sm.histories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (sm *SessionManager) historyPath(sessionID string) string {
	safeID := filenameSafeRegex.ReplaceAllString(sessionID, "_")
	return filepath.Join(sm.storage, fmt.Sprintf("history_%s.json", safeID))
}
