package interceptor

import (
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/domain"
)

// MaxSize vetoes files larger than limit bytes. A non-positive limit admits everything.
func MaxSize(limit int64) Interceptor {
	if limit <= 0 {
		return None()
	}
	return Sync(func(file domain.RawFile) (domain.RawFile, bool) {
		return nil, file.Size() <= limit
	})
}

// AcceptTypes admits files matching any pattern. Patterns are extensions
// (".png"), exact mime types ("application/pdf") or wildcards ("image/*").
// Mime types are sniffed from content, not trusted from the name.
func AcceptTypes(patterns ...string) Interceptor {
	var exts, types []string
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		switch {
		case p == "":
		case strings.HasPrefix(p, "."):
			exts = append(exts, p)
		default:
			types = append(types, p)
		}
	}
	if len(exts) == 0 && len(types) == 0 {
		return None()
	}

	return Sync(func(file domain.RawFile) (domain.RawFile, bool) {
		ext := strings.ToLower(path.Ext(file.Name()))
		for _, e := range exts {
			if ext == e {
				return nil, true
			}
		}
		if len(types) == 0 {
			return nil, false
		}

		mt, err := DetectType(file)
		if err != nil {
			return nil, false
		}
		return nil, matchesAny(mt, types)
	})
}

// DetectType sniffs the mime type of file from its leading bytes.
func DetectType(file domain.RawFile) (*mimetype.MIME, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", file.Name(), err)
	}
	defer rc.Close()

	mt, err := mimetype.DetectReader(io.LimitReader(rc, 3072))
	if err != nil {
		return nil, fmt.Errorf("detect %s: %w", file.Name(), err)
	}
	return mt, nil
}

func matchesAny(mt *mimetype.MIME, patterns []string) bool {
	for m := mt; m != nil; m = m.Parent() {
		essence := strings.ToLower(strings.TrimSpace(strings.SplitN(m.String(), ";", 2)[0]))
		for _, p := range patterns {
			if prefix, ok := strings.CutSuffix(p, "/*"); ok {
				if strings.HasPrefix(essence, prefix+"/") {
					return true
				}
				continue
			}
			if m.Is(p) {
				return true
			}
		}
	}
	return false
}
