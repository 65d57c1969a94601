package service

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/config"
	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/domain"
	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/interceptor"
	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/port"
	"github.com/anthanhphan/go-upload-orchestrator/pkg/resilience"
	"github.com/anthanhphan/gosdk/logger"
)

//go:generate mockgen -destination=mocks/dependencies_mock.go -package=mocks -source=manager.go

// IDGenerator allocates record ids.
type IDGenerator interface {
	NextString() (string, error)
}

// Option customizes a Manager.
type Option func(*Manager)

// WithInterceptor sets the admission interceptor. The default admits every file.
func WithInterceptor(i interceptor.Interceptor) Option {
	return func(m *Manager) {
		if i != nil {
			m.interceptor = i
		}
	}
}

// WithHooks sets lifecycle notifications.
func WithHooks(h Hooks) Option {
	return func(m *Manager) { m.hooks = h }
}

// WithHookErrorHandler receives errors recovered from panicking hooks.
func WithHookErrorHandler(fn func(error)) Option {
	return func(m *Manager) { m.onHookError = fn }
}

// WithInitialRecords seeds the roster, e.g. with files uploaded in an earlier session.
func WithInitialRecords(records ...domain.FileRecord) Option {
	return func(m *Manager) { m.initial = append(m.initial, records...) }
}

// WithRelease receives every submitted file that no record will hold: vetoed
// files, originals an interceptor replaced, and files dropped because the
// manager was closed or no id could be allocated. No hook fires for these, so
// this is where their resources are freed.
func WithRelease(fn func(domain.RawFile)) Option {
	return func(m *Manager) { m.onRelease = fn }
}

// Manager admits files through the interceptor, records them in the roster and
// drives each one through the transfer port independently.
type Manager struct {
	cfg         config.UploadConfig
	transfer    port.TransferPort
	idGen       IDGenerator
	interceptor interceptor.Interceptor
	hooks       Hooks
	onHookError func(error)
	onRelease   func(domain.RawFile)
	initial     []domain.FileRecord

	roster *rosterStore
	pool   *resilience.WorkerPool

	baseCtx context.Context
	abort   context.CancelFunc

	mu      sync.Mutex
	closed  bool
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// Ensure Manager implements port.UploadManager.
var _ port.UploadManager = (*Manager)(nil)

// NewManager builds a manager for cfg uploading through transfer.
func NewManager(cfg config.UploadConfig, transfer port.TransferPort, idGen IDGenerator, opts ...Option) (*Manager, error) {
	if transfer == nil {
		return nil, fmt.Errorf("transfer port is required")
	}
	if idGen == nil {
		return nil, fmt.Errorf("id generator is required")
	}

	m := &Manager{
		cfg:         cfg,
		transfer:    transfer,
		idGen:       idGen,
		interceptor: interceptor.None(),
		cancels:     make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(m)
	}

	initial, err := domain.NewRoster(m.initial)
	if err != nil {
		return nil, fmt.Errorf("invalid initial records: %w", err)
	}
	m.roster = newRosterStore(initial, parsePosition(cfg.InsertPosition))
	m.baseCtx, m.abort = context.WithCancel(context.Background())

	if cfg.MaxConcurrent > 0 {
		m.pool = resilience.NewWorkerPool(cfg.MaxConcurrent, cfg.MaxConcurrent, func(err error) {
			logger.Errorw("Transfer worker panicked", "error", err.Error())
		})
	}

	return m, nil
}

// Submit admits every file of batch in the background and returns immediately.
// Files are considered in input order; synchronous interceptor decisions keep
// that order in the roster, asynchronous ones land whenever they resolve.
func (m *Manager) Submit(batch []domain.RawFile) {
	if len(batch) == 0 {
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		logger.Warnw("Batch dropped, manager closed", "files", len(batch))
		for _, file := range batch {
			if file != nil {
				m.release(file)
			}
		}
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()

	files := append([]domain.RawFile(nil), batch...)
	go func() {
		defer m.wg.Done()
		for _, file := range files {
			if file == nil {
				continue
			}
			if !m.interceptor.Async() {
				m.admit(file)
				continue
			}
			m.wg.Add(1)
			go func(f domain.RawFile) {
				defer m.wg.Done()
				m.admit(f)
			}(file)
		}
	}()
}

// Remove deletes the record with id. Late transfer events for it are dropped.
func (m *Manager) Remove(id string) {
	rec, ok := m.roster.remove(id)
	if !ok {
		return
	}
	logger.Infow("File removed", "file_id", id, "file_name", rec.Name, "status", string(rec.Status))

	if m.cfg.AbortOnRemove {
		m.mu.Lock()
		cancel := m.cancels[id]
		m.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	}
	m.fireRemove(rec)
}

// Snapshot returns the current roster.
func (m *Manager) Snapshot() domain.Roster {
	return m.roster.snapshot()
}

// Subscribe streams the latest roster after every committed change, starting
// with the current one.
func (m *Manager) Subscribe() (<-chan domain.Roster, func()) {
	return m.roster.subscribe()
}

// Wait blocks until all work started by earlier Submit calls has settled.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Close stops accepting batches and waits for in-flight transfers. When ctx
// ends first, remaining transfers are canceled and ctx's error is returned.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		m.abort()
		logger.Warnw("Manager close timed out, canceled in-flight transfers", "error", err.Error())
	}

	if m.pool != nil {
		m.pool.Close()
		if err == nil {
			m.pool.Wait()
		}
	}
	m.abort()
	return err
}

func (m *Manager) admit(file domain.RawFile) {
	decision := m.interceptor.Decide(m.baseCtx, file)
	if !decision.Accepted {
		reason := "vetoed"
		if decision.Reason != nil {
			reason = decision.Reason.Error()
		}
		logger.Debugw("File rejected before upload", "file_name", file.Name(), "reason", reason)
		m.release(file)
		return
	}
	if !sameFile(file, decision.File) {
		m.release(file)
	}

	id, err := m.idGen.NextString()
	if err != nil {
		logger.Errorw("File id allocation failed", "file_name", decision.File.Name(), "error", err.Error())
		m.release(decision.File)
		return
	}

	rec := domain.FileRecord{
		ID:         id,
		Name:       decision.File.Name(),
		Size:       decision.File.Size(),
		Status:     domain.StatusReady,
		Percentage: 0,
		Raw:        decision.File,
		CreatedAt:  time.Now(),
	}
	if err := m.roster.insert(rec); err != nil {
		logger.Errorw("File admission failed", "file_id", id, "file_name", rec.Name, "error", err.Error())
		m.release(decision.File)
		return
	}
	logger.Debugw("File admitted", "file_id", id, "file_name", rec.Name, "size_bytes", rec.Size)

	m.dispatch(rec)
}

func (m *Manager) release(file domain.RawFile) {
	if m.onRelease == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Errorw("Release handler panicked", "file_name", file.Name(), "panic", fmt.Sprint(r))
		}
	}()
	m.onRelease(file)
}

// sameFile reports whether an interceptor passed the original through. Files
// of an incomparable type are assumed unchanged so they are never released
// while a record may still hold them.
func sameFile(original, decided domain.RawFile) bool {
	to, td := reflect.TypeOf(original), reflect.TypeOf(decided)
	if to != td {
		return false
	}
	if to == nil || !to.Comparable() {
		return true
	}
	return original == decided
}

func parsePosition(s string) domain.Position {
	if s == "tail" {
		return domain.PositionTail
	}
	return domain.PositionHead
}
