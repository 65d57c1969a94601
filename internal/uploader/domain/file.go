package domain

import (
	"bytes"
	"encoding/json"
	"io"
	"time"
)

// Status is the lifecycle state of an admitted file.
type Status string

const (
	StatusReady     Status = "ready"
	StatusUploading Status = "uploading"
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
)

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError
}

// RawFile is a user-selected file handle. Name and Size must be stable for the
// lifetime of the handle; Open may be called more than once.
type RawFile interface {
	Name() string
	Size() int64
	Open() (io.ReadCloser, error)
}

// FileRecord is the roster entry for one admitted file. Records are values:
// every change produces a new record, the old one is never touched.
type FileRecord struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	Status     Status    `json:"status"`
	Percentage int       `json:"percentage"`
	Raw        RawFile   `json:"-"`
	Response   any       `json:"response,omitempty"`
	Error      error     `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// MarshalJSON renders Error as its message.
func (r FileRecord) MarshalJSON() ([]byte, error) {
	type plain FileRecord
	out := struct {
		plain
		Error string `json:"error,omitempty"`
	}{plain: plain(r)}
	if r.Error != nil {
		out.Error = r.Error.Error()
	}
	return json.Marshal(out)
}

// MemoryFile is a RawFile backed by a byte slice.
type MemoryFile struct {
	name string
	data []byte
}

// NewMemoryFile wraps data as a RawFile. The slice is owned by the file afterwards.
func NewMemoryFile(name string, data []byte) *MemoryFile {
	return &MemoryFile{name: name, data: data}
}

func (f *MemoryFile) Name() string { return f.name }

func (f *MemoryFile) Size() int64 { return int64(len(f.data)) }

// Open returns a reader that also implements io.Seeker.
func (f *MemoryFile) Open() (io.ReadCloser, error) {
	return memoryReader{bytes.NewReader(f.data)}, nil
}

type memoryReader struct{ *bytes.Reader }

func (memoryReader) Close() error { return nil }
