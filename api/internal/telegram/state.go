package telegram

import (
	"sync"

	"github.com/Martinhdeez/plane-assistant/api/internal/assistant"
)

const maxHistory = 20

type session struct {
	mu      sync.Mutex
	engine  string
	history []assistant.Message
	context assistant.ChatContext
}

func (s *session) engineName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine
}

func (s *session) setEngine(name string) {
	s.mu.Lock()
	s.engine = name
	s.mu.Unlock()
}

func (s *session) setContext(edit func(*assistant.ChatContext)) {
	s.mu.Lock()
	edit(&s.context)
	s.mu.Unlock()
}

// snapshot copies the conversation so the AI call runs without the lock.
func (s *session) snapshot() ([]assistant.Message, *assistant.ChatContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hist := append([]assistant.Message(nil), s.history...)
	if s.context == (assistant.ChatContext{}) {
		return hist, nil
	}
	cc := s.context
	return hist, &cc
}

func (s *session) remember(msgs ...assistant.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, msgs...)
	if over := len(s.history) - maxHistory; over > 0 {
		s.history = append([]assistant.Message(nil), s.history[over:]...)
	}
}

// sessions maps a Telegram chat ID to its *session.
type sessions struct {
	m sync.Map
}

func (ss *sessions) get(chatID int64) *session {
	v, _ := ss.m.LoadOrStore(chatID, &session{})
	return v.(*session)
}

func (ss *sessions) reset(chatID int64) {
	ss.m.Delete(chatID)
}
