package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"docchat/internal/db"
	"docchat/internal/export"
	"docchat/internal/helper"
	"docchat/internal/metrics"
	"docchat/internal/models"
	"docchat/internal/rag"
)

// page is the data every template receives.
type page struct {
	Title     string
	Error     string
	Workspace *rag.Workspace
	History   []models.Turn
	Sources   string
	Handle    *handleView
}

type handleView struct {
	ID     string
	File   string
	Status string
	Detail string
}

type HealthResponse struct {
	Status    string `json:"status"`
	Workspace int64  `json:"workspace"`
	Sessions  int    `json:"sessions"`
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok", Sessions: s.Sessions.Len()}
	if ws := workspaceFrom(c); ws != nil {
		resp.Workspace = ws.Version
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleIndex(c echo.Context) error {
	return s.renderIndex(c, http.StatusOK, "")
}

func (s *Server) renderIndex(c echo.Context, code int, msg string) error {
	return c.Render(code, "index.html", page{Title: "Upload", Error: msg, Workspace: workspaceFrom(c)})
}

// handleUpload replaces the current index with one built from the
// submitted files and starts a fresh conversation.
func (s *Server) handleUpload(c echo.Context) error {
	ctx := c.Request().Context()

	form, err := c.MultipartForm()
	if err != nil {
		return s.renderIndex(c, http.StatusBadRequest, "Could not read the upload: "+err.Error())
	}
	var files []*multipart.FileHeader
	for _, fh := range form.File["file"] {
		if fh.Filename != "" {
			files = append(files, fh)
		}
	}
	if len(files) == 0 {
		return s.renderIndex(c, http.StatusOK, "")
	}

	paths := make([]string, 0, len(files))
	for _, fh := range files {
		path, err := s.saveUpload(fh)
		if err != nil {
			metrics.Uploads.WithLabelValues(metrics.Error).Inc()
			log.Error().Err(err).Str("file", fh.Filename).Msg("Failed to save upload")
			return s.renderIndex(c, http.StatusBadRequest, err.Error())
		}
		paths = append(paths, path)
	}

	ws, err := s.Builder.Build(ctx, paths)
	metrics.Uploads.WithLabelValues(metrics.ResultLabel(err)).Inc()
	if err != nil {
		log.Error().Err(err).Strs("files", paths).Msg("Failed to index upload")
		return s.renderIndex(c, http.StatusBadRequest, "Could not index the documents: "+err.Error())
	}
	metrics.ChunksIndexed.Add(float64(ws.Chunks))

	prev := s.Holder.Swap(ws)
	ev := log.Info().Int64("version", ws.Version).Strs("files", ws.Files).Int("chunks", ws.Chunks)
	if prev != nil {
		ev = ev.Int64("replaced", prev.Version)
	}
	ev.Msg("Workspace replaced")

	if path := s.cfg.RAG.SnapshotPath; path != "" {
		if err := rag.Snapshot(ws, path, s.cfg.RAG.EncryptionKey); err != nil {
			log.Error().Err(err).Str("path", path).Msg("Failed to snapshot index")
		}
	}

	if err := s.Sessions.Reset(c.Response(), c.Request()); err != nil {
		return err
	}
	return c.Redirect(http.StatusSeeOther, "/chat")
}

func (s *Server) saveUpload(fh *multipart.FileHeader) (string, error) {
	name := helper.SafeFilename(fh.Filename)
	if name == "" {
		return "", fmt.Errorf("invalid file name %q", fh.Filename)
	}

	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	path := filepath.Join(s.cfg.Server.UploadDir, name)
	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("save %s: %w", name, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", fmt.Errorf("save %s: %w", name, err)
	}
	return path, dst.Close()
}

func (s *Server) handleChatPage(c echo.Context) error {
	ws := workspaceFrom(c)
	if ws == nil {
		return c.Redirect(http.StatusSeeOther, "/")
	}
	conv, err := s.Sessions.Conversation(c.Response(), c.Request())
	if err != nil {
		return err
	}
	return c.Render(http.StatusOK, "chat.html", page{
		Title:     "Chat",
		Workspace: ws,
		History:   conv.Turns(c.Request().Context()),
	})
}

// handleChat answers one question. The session transcript is updated by the
// agent; the durable log write afterwards is best effort.
func (s *Server) handleChat(c echo.Context) error {
	ws := workspaceFrom(c)
	if ws == nil {
		return c.Redirect(http.StatusSeeOther, "/")
	}
	ctx := c.Request().Context()
	conv, err := s.Sessions.Conversation(c.Response(), c.Request())
	if err != nil {
		return err
	}

	question := strings.TrimSpace(c.FormValue("user_input"))
	if question == "" {
		return c.Render(http.StatusOK, "chat.html", page{
			Title:     "Chat",
			Error:     "Please type a question.",
			Workspace: ws,
			History:   conv.Turns(ctx),
		})
	}

	start := time.Now()
	resp, err := ws.Agent.Ask(ctx, conv, question)
	metrics.ChatLatency.Observe(time.Since(start).Seconds())
	metrics.ChatTurns.WithLabelValues(metrics.ResultLabel(err)).Inc()
	if err != nil {
		log.Error().Err(err).Int64("workspace", ws.Version).Msg("Failed to answer question")
		return echo.NewHTTPError(http.StatusInternalServerError, "The assistant could not answer this question.")
	}

	if _, err := db.AppendExchange(context.WithoutCancel(ctx), s.DB, question, resp.Content); err != nil {
		metrics.LogWriteFailures.Inc()
		log.Error().Err(err).Msg("Failed to write exchange to chat history")
	}

	return c.Render(http.StatusOK, "chat.html", page{
		Title:     "Chat",
		Workspace: ws,
		History:   conv.Turns(ctx),
		Sources:   resp.Source,
	})
}

// handleExport writes the latest answer to a spreadsheet and reports where
// to send it from.
func (s *Server) handleExport(c echo.Context) error {
	h, err := s.Exports.Start(c.Request().Context())
	metrics.Exports.WithLabelValues(metrics.ResultLabel(err)).Inc()
	switch {
	case errors.Is(err, db.ErrEmptyLog):
		return c.String(http.StatusNotFound, "Export failed: there is no chat history yet.")
	case err != nil:
		log.Error().Err(err).Msg("Export failed")
		return c.String(http.StatusInternalServerError, "Export failed: "+err.Error())
	}
	return c.String(http.StatusOK, fmt.Sprintf(
		"Export written to %s.\nHandle: %s\nChoose recipients at /export/%s\n",
		filepath.Base(h.Path), h.ID, h.ID))
}

func (s *Server) handleExportForm(c echo.Context) error {
	h, ok := s.Exports.Get(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, export.ErrUnknownHandle.Error())
	}
	return c.Render(http.StatusOK, "export.html", page{Title: "Export", Handle: viewOf(h)})
}

func (s *Server) handleExportSend(c echo.Context) error {
	h, err := s.Exports.Send(c.Request().Context(), c.Param("id"), c.FormValue("recipients"))
	switch {
	case errors.Is(err, export.ErrUnknownHandle):
		return c.String(http.StatusNotFound, "Send failed: "+err.Error())
	case errors.Is(err, export.ErrNoRecipients):
		return c.String(http.StatusBadRequest, "Send failed: "+err.Error())
	case errors.Is(err, export.ErrAlreadySent):
		return c.String(http.StatusConflict, "Send failed: "+err.Error())
	}

	metrics.Notifications.WithLabelValues(s.Exports.SenderName(), metrics.ResultLabel(err)).Inc()
	if err != nil {
		return c.String(http.StatusBadGateway, "Send failed: "+err.Error())
	}
	return c.String(http.StatusOK, fmt.Sprintf("Sent %s to %s.\n", filepath.Base(h.Path), strings.Join(h.SentTo, ", ")))
}

func viewOf(h export.Handle) *handleView {
	return &handleView{ID: h.ID, File: filepath.Base(h.Path), Status: h.Status, Detail: h.Detail}
}
