package session

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
)

// Message is one persisted conversation turn. Only plain user/assistant text
// is stored; tool call rounds are transient routing detail and are not
// replayed into future sessions.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is a named conversation transcript.
type Session struct {
	name     string
	mu       sync.RWMutex
	messages []*Message
}

// Name returns the session name.
func (s *Session) Name() string {
	return s.name
}

// Append records one turn.
func (s *Session) Append(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, &Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
}

// Tail returns the last limit messages; limit <= 0 returns everything.
func (s *Session) Tail(limit int) []*Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.messages) {
		limit = len(s.messages)
	}
	start := len(s.messages) - limit
	out := make([]*Message, limit)
	copy(out, s.messages[start:])
	return out
}

// History converts the stored tail into model messages for a new query.
func (s *Session) History(limit int) []*schema.Message {
	tail := s.Tail(limit)
	out := make([]*schema.Message, 0, len(tail))
	for _, msg := range tail {
		role := schema.RoleType(msg.Role)
		switch role {
		case schema.User, schema.Assistant, schema.System:
		default:
			continue
		}
		out = append(out, &schema.Message{Role: role, Content: msg.Content})
	}
	return out
}

// Manager loads and persists sessions as jsonl transcripts under
// <baseDir>/sessions.
type Manager struct {
	dir      string
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session manager rooted at baseDir.
func NewManager(baseDir string) *Manager {
	dir := filepath.Join(baseDir, "sessions")
	os.MkdirAll(dir, 0755)
	return &Manager{
		dir:      dir,
		sessions: make(map[string]*Session),
	}
}

// Open returns the named session, loading any persisted transcript on first
// access.
func (m *Manager) Open(name string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, ok := m.sessions[name]; ok {
		return sess
	}

	sess := &Session{name: name}
	m.loadFromDisk(sess)
	m.sessions[name] = sess
	return sess
}

// Save persists the session transcript. Empty sessions leave no file behind.
func (m *Manager) Save(sess *Session) error {
	sess.mu.RLock()
	defer sess.mu.RUnlock()

	if len(sess.messages) == 0 {
		return nil
	}

	f, err := os.OpenFile(m.sessionPath(sess.name), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, msg := range sess.messages {
		if err := enc.Encode(msg); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) loadFromDisk(sess *Session) {
	f, err := os.Open(m.sessionPath(sess.name))
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var msg Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err == nil {
			sess.messages = append(sess.messages, &msg)
		}
	}
}

func (m *Manager) sessionPath(name string) string {
	safeName := strings.NewReplacer(":", "_", "/", "_", "\\", "_").Replace(name)
	return filepath.Join(m.dir, safeName+".jsonl")
}
