// Package sink is a minimal multipart upload receiver. It stores each file
// part on a billy filesystem and answers with the URL it can be fetched from.
package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"os"
	"path"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/config"
	sdklogger "github.com/anthanhphan/gosdk/logger"
)

const (
	maxFieldSize = 64 * 1024
	maxNameTries = 1000
	filesRoute   = "/files/"
)

type Server struct {
	app *fiber.App
	cfg config.SinkConfig
	fs  billy.Filesystem
}

func NewServer(cfg config.SinkConfig, fs billy.Filesystem) *Server {
	app := fiber.New(fiber.Config{
		BodyLimit:             int(cfg.BodyLimit),
		StreamRequestBody:     true,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())

	s := &Server{app: app, cfg: cfg, fs: fs}
	s.app.Post("/upload", s.handleUpload)
	s.app.Get(filesRoute+":name", s.handleDownload)
	return s
}

func (s *Server) Start() error {
	return s.app.Listen(s.cfg.Addr)
}

func (s *Server) Stop(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) sendJSONError(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": message,
	})
}

func (s *Server) handleUpload(c *fiber.Ctx) error {
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

	fields := make(map[string]string)
	var stored string
	var size int64
	// A rejected request keeps nothing on disk.
	discard := func() {
		if stored != "" {
			_ = s.fs.Remove(path.Join(s.cfg.Dir, stored))
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
			value, err := io.ReadAll(io.LimitReader(part, maxFieldSize))
			_ = part.Close()
			if err != nil {
				discard()
				return s.sendJSONError(c, fiber.StatusBadRequest, fmt.Sprintf("Failed to read field: %v", err))
			}
			fields[part.FormName()] = string(value)
			continue
		}

		if stored != "" {
			_ = part.Close()
			discard()
			return s.sendJSONError(c, fiber.StatusBadRequest, "Only one file part is accepted")
		}
		stored, size, err = s.store(part.FileName(), part)
		_ = part.Close()
		if err != nil {
			sdklogger.Errorw("Storing upload failed", "file_name", part.FileName(), "error", err.Error())
			return s.sendJSONError(c, fiber.StatusInternalServerError, "Failed to store file")
		}
	}

	if stored == "" {
		return s.sendJSONError(c, fiber.StatusBadRequest, "Missing file part")
	}

	sdklogger.Infow("Upload stored", "file_name", stored, "size_bytes", size)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"url":    filesRoute + stored,
		"name":   stored,
		"size":   size,
		"fields": fields,
	})
}

// store writes src under a free variant of name and returns the name used.
func (s *Server) store(name string, src io.Reader) (string, int64, error) {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == ".." {
		base = "upload"
	}
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	for i := 0; i < maxNameTries; i++ {
		candidate := base
		if i > 0 {
			candidate = fmt.Sprintf("%s-%d%s", stem, i, ext)
		}
		f, err := s.fs.OpenFile(path.Join(s.cfg.Dir, candidate), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", 0, err
		}

		n, copyErr := io.Copy(f, src)
		closeErr := f.Close()
		if err := errors.Join(copyErr, closeErr); err != nil {
			_ = s.fs.Remove(path.Join(s.cfg.Dir, candidate))
			return "", 0, err
		}
		return candidate, n, nil
	}
	return "", 0, fmt.Errorf("no free name for %s", base)
}

func (s *Server) handleDownload(c *fiber.Ctx) error {
	name := path.Base(c.Params("name"))
	full := path.Join(s.cfg.Dir, name)

	info, err := s.fs.Stat(full)
	if err != nil || info.IsDir() {
		return s.sendJSONError(c, fiber.StatusNotFound, fmt.Sprintf("File %s not found", name))
	}
	f, err := s.fs.Open(full)
	if err != nil {
		return s.sendJSONError(c, fiber.StatusInternalServerError, "Failed to open file")
	}

	c.Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", name))
	c.Set("Content-Type", "application/octet-stream")
	return c.SendStream(f, int(info.Size()))
}
