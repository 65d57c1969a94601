// Package interceptor decides, per file, whether a selected file is admitted
// for upload, optionally replacing it first.
package interceptor

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/domain"
)

var ErrVetoed = errors.New("file vetoed by interceptor")

// Decision is the outcome for one file. File is the file to upload when Accepted.
type Decision struct {
	Accepted bool
	File     domain.RawFile
	Reason   error
}

func accept(file domain.RawFile) Decision {
	return Decision{Accepted: true, File: file}
}

func reject(reason error) Decision {
	if reason == nil {
		reason = ErrVetoed
	}
	return Decision{Reason: reason}
}

// Interceptor is a closed set: None, Sync, Async and Chain.
type Interceptor interface {
	// Decide must not mutate shared state; it may be called concurrently for
	// different files.
	Decide(ctx context.Context, file domain.RawFile) Decision

	// Async reports whether Decide may suspend for a long time.
	Async() bool

	sealed()
}

// SyncFunc inspects a file. Returning ok=false vetoes it; a non-nil
// replacement is uploaded instead of the original.
type SyncFunc func(file domain.RawFile) (replacement domain.RawFile, ok bool)

// AsyncFunc transforms a file, possibly slowly. An error vetoes the file; a
// nil replacement with a nil error admits the original.
type AsyncFunc func(ctx context.Context, file domain.RawFile) (domain.RawFile, error)

type none struct{}

// None admits every file unchanged.
func None() Interceptor { return none{} }

func (none) Decide(_ context.Context, file domain.RawFile) Decision { return accept(file) }
func (none) Async() bool                                            { return false }
func (none) sealed()                                                {}

type syncInterceptor struct{ fn SyncFunc }

// Sync wraps fn. A nil fn behaves like None.
func Sync(fn SyncFunc) Interceptor {
	if fn == nil {
		return none{}
	}
	return syncInterceptor{fn: fn}
}

// Predicate is Sync for a plain yes/no check.
func Predicate(fn func(file domain.RawFile) bool) Interceptor {
	if fn == nil {
		return none{}
	}
	return Sync(func(file domain.RawFile) (domain.RawFile, bool) {
		return nil, fn(file)
	})
}

func (s syncInterceptor) Decide(_ context.Context, file domain.RawFile) (d Decision) {
	defer recoverInto(&d)

	replacement, ok := s.fn(file)
	if !ok {
		return reject(nil)
	}
	if replacement != nil {
		return accept(replacement)
	}
	return accept(file)
}

func (syncInterceptor) Async() bool { return false }
func (syncInterceptor) sealed()     {}

type asyncInterceptor struct{ fn AsyncFunc }

// Async wraps fn. A nil fn behaves like None.
func Async(fn AsyncFunc) Interceptor {
	if fn == nil {
		return none{}
	}
	return asyncInterceptor{fn: fn}
}

func (a asyncInterceptor) Decide(ctx context.Context, file domain.RawFile) (d Decision) {
	defer recoverInto(&d)

	replacement, err := a.fn(ctx, file)
	if err != nil {
		return reject(fmt.Errorf("%w: %w", ErrVetoed, err))
	}
	if replacement != nil {
		return accept(replacement)
	}
	return accept(file)
}

func (asyncInterceptor) Async() bool { return true }
func (asyncInterceptor) sealed()     {}

type chain struct {
	links []Interceptor
	async bool
}

// Chain runs interceptors in order, feeding each the previous one's file and
// stopping at the first veto.
func Chain(links ...Interceptor) Interceptor {
	flat := make([]Interceptor, 0, len(links))
	async := false
	for _, link := range links {
		switch l := link.(type) {
		case nil, none:
			continue
		case chain:
			flat = append(flat, l.links...)
		default:
			flat = append(flat, l)
		}
		async = async || link.Async()
	}
	switch len(flat) {
	case 0:
		return none{}
	case 1:
		return flat[0]
	}
	return chain{links: flat, async: async}
}

func (c chain) Decide(ctx context.Context, file domain.RawFile) Decision {
	current := file
	for _, link := range c.links {
		d := link.Decide(ctx, current)
		if !d.Accepted {
			return d
		}
		current = d.File
	}
	return accept(current)
}

func (c chain) Async() bool { return c.async }
func (chain) sealed()       {}

func recoverInto(d *Decision) {
	if r := recover(); r != nil {
		*d = reject(fmt.Errorf("%w: interceptor panicked: %v", ErrVetoed, r))
	}
}
