package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"docchat/internal/config"
	"docchat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversation(t *testing.T) {
	ctx := context.Background()
	conv := NewConversation()
	assert.Empty(t, conv.Turns(ctx))

	require.NoError(t, conv.Append(ctx, "What is the capital of France?", "Paris."))
	require.NoError(t, conv.Append(ctx, "And of Spain?", "Madrid."))

	assert.Equal(t, []models.Turn{
		{Role: models.RoleUser, Content: "What is the capital of France?"},
		{Role: models.RoleAssistant, Content: "Paris."},
		{Role: models.RoleUser, Content: "And of Spain?"},
		{Role: models.RoleAssistant, Content: "Madrid."},
	}, conv.Turns(ctx))
	assert.Equal(t, 4, conv.Len(ctx))

	require.NoError(t, conv.Reset(ctx))
	assert.Equal(t, 0, conv.Len(ctx))
}

func TestConversationConcurrentTurns(t *testing.T) {
	ctx := context.Background()
	conv := NewConversation()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conv.LockTurn()
			defer conv.UnlockTurn()
			_ = conv.Append(ctx, "q", "a")
		}()
	}
	wg.Wait()

	turns := conv.Turns(ctx)
	require.Len(t, turns, 40)
	for i, turn := range turns {
		if i%2 == 0 {
			assert.Equal(t, models.RoleUser, turn.Role)
		} else {
			assert.Equal(t, models.RoleAssistant, turn.Role)
		}
	}
}

func newManager() *Manager {
	return NewManager(&config.SessionConfig{SecretKey: "test-secret", MaxSessions: 8, TTL: time.Hour})
}

// roundTrip runs fn against a request carrying cookies and returns the
// cookies the response set.
func roundTrip(t *testing.T, cookies []*http.Cookie, fn func(w http.ResponseWriter, r *http.Request)) []*http.Cookie {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/chat", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	fn(rec, req)
	return rec.Result().Cookies()
}

func TestManagerKeepsConversationPerCookie(t *testing.T) {
	ctx := context.Background()
	m := newManager()

	var first *Conversation
	cookies := roundTrip(t, nil, func(w http.ResponseWriter, r *http.Request) {
		conv, err := m.Conversation(w, r)
		require.NoError(t, err)
		require.NoError(t, conv.Append(ctx, "hello", "hi"))
		first = conv
	})
	require.Len(t, cookies, 1)
	assert.Equal(t, CookieName, cookies[0].Name)

	roundTrip(t, cookies, func(w http.ResponseWriter, r *http.Request) {
		conv, err := m.Conversation(w, r)
		require.NoError(t, err)
		assert.Same(t, first, conv)
		assert.Equal(t, 2, conv.Len(ctx))
	})

	// a different browser gets its own transcript
	roundTrip(t, nil, func(w http.ResponseWriter, r *http.Request) {
		conv, err := m.Conversation(w, r)
		require.NoError(t, err)
		assert.NotSame(t, first, conv)
		assert.Equal(t, 0, conv.Len(ctx))
	})
	assert.Equal(t, 2, m.Len())
}

func TestManagerReset(t *testing.T) {
	ctx := context.Background()
	m := newManager()

	cookies := roundTrip(t, nil, func(w http.ResponseWriter, r *http.Request) {
		conv, err := m.Conversation(w, r)
		require.NoError(t, err)
		require.NoError(t, conv.Append(ctx, "hello", "hi"))
	})

	roundTrip(t, cookies, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, m.Reset(w, r))
	})

	roundTrip(t, cookies, func(w http.ResponseWriter, r *http.Request) {
		conv, err := m.Conversation(w, r)
		require.NoError(t, err)
		assert.Equal(t, 0, conv.Len(ctx))
	})
}

func TestManagerIgnoresForgedCookie(t *testing.T) {
	m := newManager()
	forged := []*http.Cookie{{Name: CookieName, Value: "not-a-signed-value"}}

	cookies := roundTrip(t, forged, func(w http.ResponseWriter, r *http.Request) {
		conv, err := m.Conversation(w, r)
		require.NoError(t, err)
		assert.NotNil(t, conv)
	})
	require.Len(t, cookies, 1)
	assert.NotEqual(t, "not-a-signed-value", cookies[0].Value)
}
