package session

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/sessions"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"

	"docchat/internal/config"
	"docchat/internal/helper"
)

const (
	CookieName = "docchat_session"
	sidKey     = "sid"
)

// Manager maps a signed session cookie to a server-side Conversation.
// Conversations live in a bounded LRU so idle sessions expire.
type Manager struct {
	store *sessions.CookieStore

	mu    sync.Mutex
	convs *expirable.LRU[string, *Conversation]
}

func NewManager(cfg *config.SessionConfig) *Manager {
	store := sessions.NewCookieStore([]byte(cfg.SecretKey))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.TTL / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	size := cfg.MaxSessions
	if size <= 0 {
		size = 1024
	}
	return &Manager{
		store: store,
		convs: expirable.NewLRU[string, *Conversation](size, nil, cfg.TTL),
	}
}

// Conversation returns the transcript for the request's session, creating
// the session (and setting its cookie) when needed.
func (m *Manager) Conversation(w http.ResponseWriter, r *http.Request) (*Conversation, error) {
	sid, err := m.sessionID(w, r)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if conv, ok := m.convs.Get(sid); ok {
		return conv, nil
	}
	conv := NewConversation()
	m.convs.Add(sid, conv)
	return conv, nil
}

// Reset starts an empty transcript for the request's session.
func (m *Manager) Reset(w http.ResponseWriter, r *http.Request) error {
	sid, err := m.sessionID(w, r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.convs.Add(sid, NewConversation())
	m.mu.Unlock()
	return nil
}

// Len reports how many sessions are held.
func (m *Manager) Len() int {
	return m.convs.Len()
}

func (m *Manager) sessionID(w http.ResponseWriter, r *http.Request) (string, error) {
	sess, err := m.store.Get(r, CookieName)
	if err != nil {
		// tampered or stale cookie, start over with the fresh session
		log.Warn().Err(err).Msg("Discarding invalid session cookie")
	}
	if sid, ok := sess.Values[sidKey].(string); ok && sid != "" {
		return sid, nil
	}

	sid, err := helper.GenerateUUID()
	if err != nil {
		return "", err
	}
	sess.Values[sidKey] = sid
	if err := sess.Save(r, w); err != nil {
		return "", fmt.Errorf("save session: %w", err)
	}
	return sid, nil
}
