package notify

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"docchat/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	s, err := New(&config.NotifyConfig{Driver: "noop"})
	require.NoError(t, err)
	assert.Equal(t, "noop", s.Name())

	s, err = New(&config.NotifyConfig{Driver: "sendmail", SendmailPath: "/usr/sbin/sendmail"})
	require.NoError(t, err)
	assert.Equal(t, "sendmail", s.Name())

	s, err = New(&config.NotifyConfig{Driver: "smtp", SMTP: config.SMTPConfig{Host: "mail.example.com", Port: 587}})
	require.NoError(t, err)
	assert.Equal(t, "smtp", s.Name())

	_, err = New(&config.NotifyConfig{Driver: "smtp"})
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = New(&config.NotifyConfig{Driver: "outlook"})
	assert.Error(t, err)
}

func TestBuildMessage(t *testing.T) {
	attachment := filepath.Join(t.TempDir(), "dados.xlsx")
	require.NoError(t, os.WriteFile(attachment, []byte("xlsx bytes"), 0o644))

	msg, err := buildMessage("bot@example.com", Message{
		To:         []string{"ana@example.com", "rui@example.com"},
		Subject:    "Histórico do chat",
		Body:       "Segue em anexo.",
		Attachment: attachment,
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = msg.WriteTo(&buf)
	require.NoError(t, err)
	raw := buf.String()
	assert.Contains(t, raw, "ana@example.com")
	assert.Contains(t, raw, "rui@example.com")
	assert.Contains(t, raw, "bot@example.com")
	assert.Contains(t, raw, "dados.xlsx")

	_, err = buildMessage("bot@example.com", Message{})
	assert.Error(t, err)

	_, err = buildMessage("bot@example.com", Message{To: []string{"not an address"}})
	assert.Error(t, err)
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	require.NoError(t, r.Send(context.Background(), Message{To: []string{"a@example.com"}}))
	assert.Len(t, r.Sent(), 1)

	r.Err = assert.AnError
	assert.ErrorIs(t, r.Send(context.Background(), Message{}), assert.AnError)
	assert.Len(t, r.Sent(), 1)
}

func TestNoopSender(t *testing.T) {
	assert.NoError(t, NoopSender{}.Send(context.Background(), Message{To: []string{"a@example.com"}}))
}
