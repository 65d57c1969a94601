package service

import (
	"fmt"

	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/domain"
	"github.com/anthanhphan/gosdk/logger"
)

// Hooks are notifications fired after the triggering roster change is
// committed. Each runs on the goroutine of the file it reports on, so a slow
// hook delays only that file's own events. Any hook may be nil.
type Hooks struct {
	OnProgress func(percentage int, file domain.FileRecord)
	OnSuccess  func(response any, file domain.FileRecord)
	OnError    func(err error, file domain.FileRecord)
	OnChange   func(file domain.FileRecord)
	OnRemove   func(file domain.FileRecord)
}

// HookPanicError wraps a value recovered from a panicking hook.
type HookPanicError struct {
	Hook   string
	FileID string
	Value  any
}

func (e *HookPanicError) Error() string {
	return fmt.Sprintf("hook %s panicked for file %s: %v", e.Hook, e.FileID, e.Value)
}

func (m *Manager) fireProgress(percentage int, rec domain.FileRecord) {
	if m.hooks.OnProgress != nil {
		m.guard("on_progress", rec.ID, func() { m.hooks.OnProgress(percentage, rec) })
	}
}

func (m *Manager) fireSuccess(response any, rec domain.FileRecord) {
	if m.hooks.OnSuccess != nil {
		m.guard("on_success", rec.ID, func() { m.hooks.OnSuccess(response, rec) })
	}
	m.fireChange(rec)
}

func (m *Manager) fireError(err error, rec domain.FileRecord) {
	if m.hooks.OnError != nil {
		m.guard("on_error", rec.ID, func() { m.hooks.OnError(err, rec) })
	}
	m.fireChange(rec)
}

func (m *Manager) fireChange(rec domain.FileRecord) {
	if m.hooks.OnChange != nil {
		m.guard("on_change", rec.ID, func() { m.hooks.OnChange(rec) })
	}
}

func (m *Manager) fireRemove(rec domain.FileRecord) {
	if m.hooks.OnRemove != nil {
		m.guard("on_remove", rec.ID, func() { m.hooks.OnRemove(rec) })
	}
}

// guard runs fn and hands a panic to the error handler instead of unwinding
// into the transfer.
func (m *Manager) guard(hook, fileID string, fn func()) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		err := &HookPanicError{Hook: hook, FileID: fileID, Value: r}
		logger.Errorw("Upload hook panicked", "hook", hook, "file_id", fileID, "error", err.Error())
		m.reportHookError(err)
	}()
	fn()
}

func (m *Manager) reportHookError(err error) {
	if m.onHookError == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Errorw("Hook error handler panicked", "error", fmt.Sprint(r))
		}
	}()
	m.onHookError(err)
}
