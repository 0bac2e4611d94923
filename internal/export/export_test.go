package export

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"docchat/internal/config"
	"docchat/internal/db"
	"docchat/internal/notify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/xuri/excelize/v2"
)

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()
	database, err := db.Open(&config.DatabaseConfig{DSN: "file:" + filepath.Join(t.TempDir(), "chat.db")})
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.InitDB(context.Background(), database))
	return database
}

func newWriter(dir string) *Writer {
	return &Writer{Dir: dir, BaseName: "dados", Sheet: "Sheet1", MaxColWidth: 60}
}

func readCells(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Sheet1")
	require.NoError(t, err)
	return rows
}

func xlsxFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*.xlsx"))
	require.NoError(t, err)
	return matches
}

func TestNextFreePath(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, filepath.Join(dir, "dados.xlsx"), NextFreePath(dir, "dados", ".xlsx"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "dados.xlsx"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dados.2.xlsx"), nil, 0o644))
	assert.Equal(t, filepath.Join(dir, "dados.1.xlsx"), NextFreePath(dir, "dados", ".xlsx"))
}

func TestWriterNeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	w := newWriter(dir)

	first, err := w.Write("first answer")
	require.NoError(t, err)
	second, err := w.Write("second answer")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "dados.xlsx"), first)
	assert.Equal(t, filepath.Join(dir, "dados.1.xlsx"), second)
	assert.Equal(t, [][]string{{"assistant_response"}, {"first answer"}}, readCells(t, first))
	assert.Equal(t, [][]string{{"assistant_response"}, {"second answer"}}, readCells(t, second))
}

func TestWriterFormatsColumn(t *testing.T) {
	dir := t.TempDir()
	text := strings.Repeat("word ", 40) + "\nshort"
	path, err := newWriter(dir).Write(text)
	require.NoError(t, err)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	width, err := f.GetColWidth("Sheet1", "A")
	require.NoError(t, err)
	assert.Equal(t, 60.0, width)

	styleID, err := f.GetCellStyle("Sheet1", "A2")
	require.NoError(t, err)
	style, err := f.GetStyle(styleID)
	require.NoError(t, err)
	require.NotNil(t, style.Alignment)
	assert.True(t, style.Alignment.WrapText)
}

func TestColumnWidth(t *testing.T) {
	assert.Equal(t, 10, ColumnWidth([]string{"abc"}, 100))
	assert.Equal(t, 22, ColumnWidth([]string{"short\n" + strings.Repeat("x", 20)}, 100))
	assert.Equal(t, 50, ColumnWidth([]string{strings.Repeat("x", 500)}, 50))
}

func TestWrappedLines(t *testing.T) {
	assert.Equal(t, 1, WrappedLines("", 10))
	assert.Equal(t, 3, WrappedLines(strings.Repeat("x", 25), 10))
	assert.Equal(t, 3, WrappedLines("a\n\nb", 10))
}

func TestParseRecipients(t *testing.T) {
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, ParseRecipients(" a@example.com, ,b@example.com ,"))
	assert.Empty(t, ParseRecipients(" , "))
	assert.Empty(t, ParseRecipients(""))
}

func TestStartOnEmptyLog(t *testing.T) {
	dir := t.TempDir()
	wf := NewWorkflow(newTestDB(t), newWriter(dir), &notify.Recorder{}, "s", "b")

	_, err := wf.Start(context.Background())
	assert.ErrorIs(t, err, db.ErrEmptyLog)
	assert.Empty(t, xlsxFiles(t, dir))
}

func TestStartAndSend(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	database := newTestDB(t)
	_, err := db.AppendExchange(ctx, database, "q1", "older answer")
	require.NoError(t, err)
	_, err = db.AppendExchange(ctx, database, "What is the capital of France?", "Paris is the capital of France.")
	require.NoError(t, err)

	// an earlier export already occupies the first name
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dados.xlsx"), []byte("old"), 0o644))

	recorder := &notify.Recorder{}
	wf := NewWorkflow(database, newWriter(dir), recorder, "Histórico", "Em anexo.")

	h, err := wf.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "dados.1.xlsx"), h.Path)
	assert.Equal(t, int64(2), h.RecordID)
	assert.Equal(t, StatusReady, h.Status)
	assert.Len(t, xlsxFiles(t, dir), 2)
	assert.Equal(t, [][]string{{"assistant_response"}, {"Paris is the capital of France."}}, readCells(t, h.Path))

	t.Run("no recipients", func(t *testing.T) {
		_, err := wf.Send(ctx, h.ID, " , ")
		assert.ErrorIs(t, err, ErrNoRecipients)
	})

	t.Run("unknown handle", func(t *testing.T) {
		_, err := wf.Send(ctx, "nope", "a@example.com")
		assert.ErrorIs(t, err, ErrUnknownHandle)
	})

	t.Run("one message to everybody", func(t *testing.T) {
		sent, err := wf.Send(ctx, h.ID, "ana@example.com, rui@example.com")
		require.NoError(t, err)
		assert.Equal(t, StatusSent, sent.Status)

		msgs := recorder.Sent()
		require.Len(t, msgs, 1)
		assert.Equal(t, []string{"ana@example.com", "rui@example.com"}, msgs[0].To)
		assert.Equal(t, h.Path, msgs[0].Attachment)
		assert.Equal(t, "Histórico", msgs[0].Subject)
	})

	t.Run("second send is refused", func(t *testing.T) {
		_, err := wf.Send(ctx, h.ID, "ana@example.com")
		assert.ErrorIs(t, err, ErrAlreadySent)
		assert.Len(t, recorder.Sent(), 1)
	})
}

func TestSendFailureIsRetryable(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)
	_, err := db.AppendExchange(ctx, database, "q", "a")
	require.NoError(t, err)

	recorder := &notify.Recorder{Err: assert.AnError}
	wf := NewWorkflow(database, newWriter(t.TempDir()), recorder, "s", "b")
	h, err := wf.Start(ctx)
	require.NoError(t, err)

	failed, err := wf.Send(ctx, h.ID, "a@example.com")
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, StatusFailed, failed.Status)

	recorder.Err = nil
	sent, err := wf.Send(ctx, h.ID, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, StatusSent, sent.Status)

	got, ok := wf.Get(h.ID)
	require.True(t, ok)
	assert.Equal(t, []string{"a@example.com"}, got.SentTo)
}

func TestSendMissingFile(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)
	_, err := db.AppendExchange(ctx, database, "q", "a")
	require.NoError(t, err)

	wf := NewWorkflow(database, newWriter(t.TempDir()), &notify.Recorder{}, "s", "b")
	h, err := wf.Start(ctx)
	require.NoError(t, err)
	require.NoError(t, os.Remove(h.Path))

	failed, err := wf.Send(ctx, h.ID, "a@example.com")
	assert.Error(t, err)
	assert.Equal(t, StatusFailed, failed.Status)
}
