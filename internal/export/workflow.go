// Package export dumps the latest assistant answer to a spreadsheet and mails
// it in two steps: Start writes the file and returns a handle, Send delivers
// it once recipients are known.
package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"

	"docchat/internal/db"
	"docchat/internal/helper"
	"docchat/internal/notify"
)

var (
	ErrUnknownHandle = errors.New("unknown export handle")
	ErrNoRecipients  = errors.New("no recipients given")
	ErrAlreadySent   = errors.New("export already sent")
)

const (
	StatusReady   = "ready"
	StatusSending = "sending"
	StatusSent    = "sent"
	StatusFailed  = "failed"

	maxHandles = 256
	handleTTL  = 24 * time.Hour
)

// Handle identifies one written export file awaiting delivery.
type Handle struct {
	ID        string
	Path      string
	RecordID  int64
	CreatedAt time.Time
	Status    string
	Detail    string
	SentTo    []string
}

type Workflow struct {
	db      *bun.DB
	writer  *Writer
	sender  notify.Sender
	subject string
	body    string

	mu      sync.Mutex
	handles *expirable.LRU[string, *Handle]
}

func NewWorkflow(database *bun.DB, writer *Writer, sender notify.Sender, subject, body string) *Workflow {
	return &Workflow{
		db:      database,
		writer:  writer,
		sender:  sender,
		subject: subject,
		body:    body,
		handles: expirable.NewLRU[string, *Handle](maxHandles, nil, handleTTL),
	}
}

// SenderName names the configured delivery channel.
func (w *Workflow) SenderName() string { return w.sender.Name() }

// Start reads the latest exchange and writes its answer to a new file.
// With an empty log it returns db.ErrEmptyLog and writes nothing.
func (w *Workflow) Start(ctx context.Context) (Handle, error) {
	record, err := db.LatestExchange(ctx, w.db)
	if err != nil {
		return Handle{}, err
	}

	path, err := w.writer.Write(record.AssistantResponse)
	if err != nil {
		return Handle{}, fmt.Errorf("write export: %w", err)
	}

	id, err := helper.GenerateUUID()
	if err != nil {
		return Handle{}, err
	}
	h := &Handle{
		ID:        id,
		Path:      path,
		RecordID:  record.ID,
		CreatedAt: time.Now(),
		Status:    StatusReady,
	}

	w.mu.Lock()
	w.handles.Add(id, h)
	w.mu.Unlock()

	log.Info().Str("handle", id).Str("file", path).Int64("record", record.ID).Msg("Export written")
	return *h, nil
}

// Get returns a snapshot of the handle.
func (w *Workflow) Get(id string) (Handle, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	h, ok := w.handles.Get(id)
	if !ok {
		return Handle{}, false
	}
	return *h, true
}

// Send mails the export to the comma separated recipients, one message for
// all of them. A failed send can be retried with the same handle.
func (w *Workflow) Send(ctx context.Context, id, rawRecipients string) (Handle, error) {
	recipients := ParseRecipients(rawRecipients)

	w.mu.Lock()
	h, ok := w.handles.Get(id)
	if !ok {
		w.mu.Unlock()
		return Handle{}, ErrUnknownHandle
	}
	switch {
	case h.Status == StatusSent || h.Status == StatusSending:
		snapshot := *h
		w.mu.Unlock()
		return snapshot, ErrAlreadySent
	case len(recipients) == 0:
		snapshot := *h
		w.mu.Unlock()
		return snapshot, ErrNoRecipients
	}
	h.Status = StatusSending
	w.mu.Unlock()

	if _, err := os.Stat(h.Path); err != nil {
		return w.finish(h, recipients, fmt.Errorf("export file: %w", err))
	}

	err := w.sender.Send(ctx, notify.Message{
		To:         recipients,
		Subject:    w.subject,
		Body:       w.body,
		Attachment: h.Path,
	})
	return w.finish(h, recipients, err)
}

func (w *Workflow) finish(h *Handle, recipients []string, err error) (Handle, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	to := strings.Join(recipients, ";")
	if err != nil {
		h.Status = StatusFailed
		h.Detail = err.Error()
		log.Error().Err(err).Str("handle", h.ID).Str("to", to).Str("sender", w.sender.Name()).Msg("Export delivery failed")
		return *h, err
	}
	h.Status = StatusSent
	h.Detail = ""
	h.SentTo = recipients
	log.Info().Str("handle", h.ID).Str("to", to).Str("sender", w.sender.Name()).Msg("Export delivered")
	return *h, nil
}

// ParseRecipients splits a comma separated list, trimming blanks.
func ParseRecipients(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if addr := strings.TrimSpace(part); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}
