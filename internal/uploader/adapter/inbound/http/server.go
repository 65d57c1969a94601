package http_handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/adapter/inbound/source"
	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/config"
	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/domain"
	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/port"
	sdklogger "github.com/anthanhphan/gosdk/logger"
)

const (
	spoolDir          = "spool"
	heartbeatInterval = 15 * time.Second
)

// Server exposes the roster and accepts drop-zone batches.
type Server struct {
	app     *fiber.App
	cfg     *config.Config
	manager port.UploadManager
	spool   billy.Filesystem

	done     chan struct{}
	stopOnce sync.Once
}

func NewServer(cfg *config.Config, manager port.UploadManager, spool billy.Filesystem) *Server {
	app := fiber.New(fiber.Config{
		BodyLimit:             int(cfg.Server.BodyLimit),
		StreamRequestBody:     true,
		DisableStartupMessage: true,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New())

	s := &Server{
		app:     app,
		cfg:     cfg,
		manager: manager,
		spool:   spool,
		done:    make(chan struct{}),
	}

	// Routes
	s.registerRoutes()

	return s
}

func (s *Server) registerRoutes() {
	s.app.Get("/files", s.handleList)
	s.app.Get("/files/stream", s.handleStream)
	s.app.Get("/files/:id", s.handleGet)
	s.app.Delete("/files/:id", s.handleRemove)
	s.app.Post("/files", s.handleSubmit)
}

func (s *Server) Start() error {
	return s.app.Listen(s.cfg.Server.Addr)
}

// Stop ends open event streams and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.done) })
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) sendJSONError(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": message,
	})
}

func (s *Server) handleList(c *fiber.Ctx) error {
	return c.JSON(s.manager.Snapshot())
}

func (s *Server) handleGet(c *fiber.Ctx) error {
	id := c.Params("id")
	rec, ok := s.manager.Snapshot().Get(id)
	if !ok {
		return s.sendJSONError(c, fiber.StatusNotFound, fmt.Sprintf("File %s not found", id))
	}
	return c.JSON(rec)
}

func (s *Server) handleRemove(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, ok := s.manager.Snapshot().Get(id); !ok {
		return s.sendJSONError(c, fiber.StatusNotFound, fmt.Sprintf("File %s not found", id))
	}
	s.manager.Remove(id)
	return c.SendStatus(fiber.StatusNoContent)
}

// handleSubmit spools every file part of a multipart batch and submits them
// together, the way a drop zone hands over several files at once.
func (s *Server) handleSubmit(c *fiber.Ctx) error {
	contentType := c.Get("Content-Type")
	if !strings.HasPrefix(contentType, "multipart/form-data") {
		return s.sendJSONError(c, fiber.StatusBadRequest, "Content-Type must be multipart/form-data")
	}

	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return s.sendJSONError(c, fiber.StatusBadRequest, "Invalid Content-Type")
	}
	boundary, ok := params["boundary"]
	if !ok {
		return s.sendJSONError(c, fiber.StatusBadRequest, "Missing boundary in Content-Type")
	}

	bodyStream := c.Context().RequestBodyStream()
	if bodyStream == nil {
		bodyStream = bytes.NewReader(c.Body())
	}
	mr := multipart.NewReader(bodyStream, boundary)

	var batch []*source.File
	discard := func() {
		for _, f := range batch {
			_ = f.Discard()
		}
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			discard()
			return s.sendJSONError(c, fiber.StatusBadRequest, fmt.Sprintf("Failed to read multipart: %v", err))
		}
		if part.FileName() == "" {
			_ = part.Close()
			continue
		}

		f, err := source.Spool(s.spool, spoolDir, part.FileName(), part, s.cfg.Upload.MaxFileSize)
		_ = part.Close()
		if err != nil {
			discard()
			if errors.Is(err, source.ErrTooLarge) {
				return s.sendJSONError(c, fiber.StatusRequestEntityTooLarge, err.Error())
			}
			sdklogger.Errorw("Spooling upload failed", "file_name", part.FileName(), "error", err.Error())
			return s.sendJSONError(c, fiber.StatusInternalServerError, "Failed to store file")
		}
		batch = append(batch, f)
	}

	if len(batch) == 0 {
		return s.sendJSONError(c, fiber.StatusBadRequest, "Missing file parts")
	}

	raw := make([]domain.RawFile, 0, len(batch))
	for _, f := range batch {
		raw = append(raw, f)
	}
	s.manager.Submit(raw)
	sdklogger.Infow("Batch received", "files", len(raw))

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"accepted": len(raw),
	})
}

// handleStream pushes every roster snapshot as a server-sent event.
func (s *Server) handleStream(c *fiber.Ctx) error {
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	updates, cancel := s.manager.Subscribe()
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()
		_ = writeEvents(w, updates, heartbeat.C, s.done)
	})
	return nil
}

// writeEvents streams until updates or done closes. Heartbeat comments make a
// vanished client fail a write even while the roster is idle.
func writeEvents(w *bufio.Writer, updates <-chan domain.Roster, heartbeat <-chan time.Time, done <-chan struct{}) error {
	for {
		select {
		case <-done:
			return nil
		case <-heartbeat:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return err
			}
		case roster, ok := <-updates:
			if !ok {
				return nil
			}
			data, err := json.Marshal(roster)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "event: roster\ndata: %s\n\n", data); err != nil {
				return err
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}
}
