package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/config"
	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/domain"
	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/port"
	"github.com/anthanhphan/go-upload-orchestrator/pkg/idgen"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

type outcome struct {
	resp any
	err  error
}

// pendingCall is one in-flight Upload held open by scriptedTransfer.
type pendingCall struct {
	ctx      context.Context
	req      port.TransferRequest
	progress port.ProgressFunc
	result   chan outcome
}

func (c *pendingCall) report(loaded, total int64) { c.progress(loaded, total) }

func (c *pendingCall) succeed(resp any) { c.result <- outcome{resp: resp} }

func (c *pendingCall) fail(err error) { c.result <- outcome{err: err} }

// scriptedTransfer blocks every upload until the test resolves it.
type scriptedTransfer struct {
	mu    sync.Mutex
	calls map[string]*pendingCall
	order []string
}

func newScriptedTransfer() *scriptedTransfer {
	return &scriptedTransfer{calls: make(map[string]*pendingCall)}
}

func (s *scriptedTransfer) Upload(ctx context.Context, req port.TransferRequest, onProgress port.ProgressFunc) (any, error) {
	c := &pendingCall{ctx: ctx, req: req, progress: onProgress, result: make(chan outcome, 1)}
	name := req.Payload.Name()

	s.mu.Lock()
	s.calls[name] = c
	s.order = append(s.order, name)
	s.mu.Unlock()

	select {
	case o := <-c.result:
		return o.resp, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *scriptedTransfer) started(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.calls[name]
	return ok
}

func (s *scriptedTransfer) call(t *testing.T, name string) *pendingCall {
	t.Helper()
	require.Eventually(t, func() bool { return s.started(name) }, waitFor, tick, "upload of %s never started", name)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

// instantTransfer answers every upload immediately.
type instantTransfer struct{}

func (instantTransfer) Upload(_ context.Context, req port.TransferRequest, onProgress port.ProgressFunc) (any, error) {
	onProgress(req.Payload.Size()/2, req.Payload.Size())
	onProgress(req.Payload.Size(), req.Payload.Size())
	return map[string]string{"url": "/" + req.Payload.Name()}, nil
}

// hookLog records hook calls as compact strings.
type hookLog struct {
	mu      sync.Mutex
	entries []string
}

func (h *hookLog) add(format string, args ...any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, fmt.Sprintf(format, args...))
}

func (h *hookLog) all() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.entries...)
}

// forFile returns entries mentioning name.
func (h *hookLog) forFile(name string) []string {
	var out []string
	for _, e := range h.all() {
		if strings.HasSuffix(e, ":"+name) {
			out = append(out, e)
		}
	}
	return out
}

func (h *hookLog) hooks() Hooks {
	return Hooks{
		OnProgress: func(p int, f domain.FileRecord) { h.add("progress:%d:%s", p, f.Name) },
		OnSuccess:  func(resp any, f domain.FileRecord) { h.add("success:%v:%s", resp, f.Name) },
		OnError:    func(err error, f domain.FileRecord) { h.add("error:%v:%s", err, f.Name) },
		OnChange:   func(f domain.FileRecord) { h.add("change:%s:%s", f.Status, f.Name) },
		OnRemove:   func(f domain.FileRecord) { h.add("remove:%s", f.Name) },
	}
}

// releaseLog records file names passed to WithRelease.
type releaseLog struct {
	mu    sync.Mutex
	names []string
}

func (r *releaseLog) add(f domain.RawFile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, f.Name())
}

func (r *releaseLog) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

func newTestManager(t *testing.T, cfg config.UploadConfig, transfer port.TransferPort, opts ...Option) *Manager {
	t.Helper()
	gen, err := idgen.New(1, nil)
	require.NoError(t, err)
	if cfg.Action == "" {
		cfg.Action = "http://upload.test/files"
	}
	m, err := NewManager(cfg, transfer, gen, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = m.Close(ctx)
	})
	return m
}

func sized(name string, size int) domain.RawFile {
	return domain.NewMemoryFile(name, make([]byte, size))
}

func byName(r domain.Roster, name string) (domain.FileRecord, bool) {
	for _, rec := range r.Records() {
		if rec.Name == name {
			return rec, true
		}
	}
	return domain.FileRecord{}, false
}

func statusOf(m *Manager, name string) domain.Status {
	rec, ok := byName(m.Snapshot(), name)
	if !ok {
		return ""
	}
	return rec.Status
}
