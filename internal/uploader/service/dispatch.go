package service

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/domain"
	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/port"
	"github.com/anthanhphan/gosdk/logger"
)

// eventBuffer bounds how far a transport may run ahead of event application.
const eventBuffer = 16

// dispatch schedules the transfer of a freshly admitted record.
func (m *Manager) dispatch(rec domain.FileRecord) {
	ctx, cancel := context.WithCancel(m.baseCtx)
	m.mu.Lock()
	m.cancels[rec.ID] = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		run := func() {
			defer m.forget(rec.ID)
			m.transferFile(ctx, rec)
		}
		if m.pool == nil {
			run()
			return
		}

		// The record stays Ready while it waits for a free slot.
		var slot sync.WaitGroup
		slot.Add(1)
		err := m.pool.Submit(ctx, func() {
			defer slot.Done()
			run()
		})
		if err != nil {
			m.forget(rec.ID)
			m.apply(domain.ErrorEvent(rec.ID, fmt.Errorf("dispatch failed: %w", err)))
			return
		}
		slot.Wait()
	}()
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	cancel := m.cancels[id]
	delete(m.cancels, id)
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (m *Manager) transferFile(ctx context.Context, rec domain.FileRecord) {
	if _, ok := m.roster.update(rec.ID, startUploading); !ok {
		logger.Debugw("Transfer skipped, file no longer ready", "file_id", rec.ID)
		return
	}

	if timeout := m.cfg.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	sink := newEventSink(m.apply)
	defer sink.close()

	req := port.TransferRequest{
		Endpoint:        m.cfg.Action,
		FieldName:       m.cfg.FieldNameOrDefault(),
		ExtraFields:     maps.Clone(m.cfg.Data),
		Headers:         maps.Clone(m.cfg.Headers),
		SendCredentials: m.cfg.WithCredentials,
		Payload:         rec.Raw,
	}

	logger.Infow("Upload started", "file_id", rec.ID, "file_name", rec.Name, "endpoint", req.Endpoint)
	resp, err := m.upload(ctx, req, func(loaded, total int64) {
		sink.push(domain.ProgressEvent(rec.ID, domain.Percentage(loaded, total)))
	})
	if err != nil {
		logger.Warnw("Upload failed", "file_id", rec.ID, "file_name", rec.Name, "error", err.Error())
		sink.push(domain.ErrorEvent(rec.ID, err))
		return
	}
	logger.Infow("Upload completed", "file_id", rec.ID, "file_name", rec.Name, "size_bytes", rec.Size)
	sink.push(domain.SuccessEvent(rec.ID, resp))
}

// upload calls the transfer port, turning a transport panic into a failure.
func (m *Manager) upload(ctx context.Context, req port.TransferRequest, onProgress port.ProgressFunc) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp, err = nil, fmt.Errorf("transfer port panicked: %v", r)
		}
	}()
	return m.transfer.Upload(ctx, req, onProgress)
}

// apply commits one event and fires its hooks. Events for removed records, or
// records already in a terminal state, are dropped.
func (m *Manager) apply(ev domain.Event) {
	switch ev.Kind {
	case domain.EventProgress:
		rec, ok := m.roster.update(ev.FileID, func(r domain.FileRecord) (domain.FileRecord, bool) {
			return progressTo(r, ev.Percentage)
		})
		if ok && ev.Percentage < 100 {
			m.fireProgress(rec.Percentage, rec)
		}
	case domain.EventSuccess:
		rec, ok := m.roster.update(ev.FileID, func(r domain.FileRecord) (domain.FileRecord, bool) {
			if r.Status != domain.StatusUploading {
				return r, false
			}
			r.Status = domain.StatusSuccess
			r.Response = ev.Response
			return r, true
		})
		if ok {
			m.fireSuccess(ev.Response, rec)
		}
	case domain.EventError:
		rec, ok := m.roster.update(ev.FileID, func(r domain.FileRecord) (domain.FileRecord, bool) {
			if r.Status.Terminal() {
				return r, false
			}
			r.Status = domain.StatusError
			r.Error = ev.Err
			return r, true
		})
		if ok {
			m.fireError(ev.Err, rec)
		}
	}
}

func startUploading(r domain.FileRecord) (domain.FileRecord, bool) {
	if r.Status != domain.StatusReady {
		return r, false
	}
	r.Status = domain.StatusUploading
	return r, true
}

// progressTo moves an uploading record forward. Reports at or above 100 only
// refresh the percentage; success comes from the transport result alone.
func progressTo(r domain.FileRecord, percentage int) (domain.FileRecord, bool) {
	if r.Status != domain.StatusUploading {
		return r, false
	}
	percentage = min(max(percentage, 0), 100)
	if percentage < r.Percentage {
		return r, false
	}
	r.Percentage = percentage
	return r, true
}

// eventSink serializes the events of one transfer onto a single goroutine.
// Pushes after close are dropped.
type eventSink struct {
	mu     sync.Mutex
	closed bool
	events chan domain.Event
	done   chan struct{}
}

func newEventSink(apply func(domain.Event)) *eventSink {
	s := &eventSink{
		events: make(chan domain.Event, eventBuffer),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		for ev := range s.events {
			apply(ev)
		}
	}()
	return s
}

func (s *eventSink) push(ev domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events <- ev
}

// close stops intake and waits until every queued event has been applied.
func (s *eventSink) close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	s.mu.Unlock()
	<-s.done
}
