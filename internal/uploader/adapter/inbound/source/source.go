// Package source turns paths and streams into upload batches backed by a
// billy filesystem.
package source

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/domain"
)

var ErrTooLarge = errors.New("file exceeds spool limit")

// File is a RawFile stored on a billy filesystem.
type File struct {
	fs      billy.Filesystem
	path    string
	name    string
	size    int64
	spooled bool
}

var _ domain.RawFile = (*File)(nil)

func (f *File) Name() string { return f.name }

func (f *File) Size() int64 { return f.size }

// Path is the location of the file on its filesystem.
func (f *File) Path() string { return f.path }

// Open returns a billy.File, which is also an io.Seeker.
func (f *File) Open() (io.ReadCloser, error) {
	return f.fs.Open(f.path)
}

// Discard deletes a spooled copy. Files collected from disk are left alone.
func (f *File) Discard() error {
	if !f.spooled {
		return nil
	}
	return f.fs.Remove(f.path)
}

// Collect resolves paths to regular files in argument order. Directories are
// walked recursively in lexical order and hidden entries inside them are skipped.
func Collect(bfs billy.Filesystem, paths ...string) ([]domain.RawFile, error) {
	var out []domain.RawFile
	for _, p := range paths {
		info, err := bfs.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		if !info.IsDir() {
			out = append(out, &File{fs: bfs, path: p, name: info.Name(), size: info.Size()})
			continue
		}

		var found []*File
		err = util.Walk(bfs, p, func(walked string, info fs.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if walked != p && strings.HasPrefix(info.Name(), ".") {
				if info.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if info.Mode().IsRegular() {
				found = append(found, &File{fs: bfs, path: walked, name: info.Name(), size: info.Size()})
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", p, err)
		}
		sort.Slice(found, func(i, j int) bool { return found[i].path < found[j].path })
		for _, f := range found {
			out = append(out, f)
		}
	}
	return out, nil
}

// Spool copies r into a temporary file under dir and returns it as name.
// A limit of zero or less means no limit.
func Spool(bfs billy.Filesystem, dir, name string, r io.Reader, limit int64) (*File, error) {
	if err := bfs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	tmp, err := bfs.TempFile(dir, "spool-")
	if err != nil {
		return nil, fmt.Errorf("create spool file: %w", err)
	}

	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	n, copyErr := io.Copy(tmp, src)
	closeErr := tmp.Close()
	switch {
	case copyErr != nil:
		err = fmt.Errorf("spool %s: %w", name, copyErr)
	case closeErr != nil:
		err = fmt.Errorf("spool %s: %w", name, closeErr)
	case limit > 0 && n > limit:
		err = fmt.Errorf("spool %s: %w", name, ErrTooLarge)
	}
	if err != nil {
		_ = bfs.Remove(tmp.Name())
		return nil, err
	}

	return &File{fs: bfs, path: tmp.Name(), name: path.Base(name), size: n, spooled: true}, nil
}
