package http_transfer

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/config"
	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/domain"
	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/port"
	"github.com/anthanhphan/go-upload-orchestrator/pkg/resilience"
)

var pngHeader = "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"

type progressLog struct {
	mu    sync.Mutex
	calls [][2]int64
}

func (p *progressLog) record(loaded, total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, [2]int64{loaded, total})
}

func (p *progressLog) snapshot() [][2]int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][2]int64(nil), p.calls...)
}

func newAdapter(t *testing.T, breaker config.BreakerConfig, opts ...Option) *Adapter {
	t.Helper()
	a, err := New(breaker, opts...)
	require.NoError(t, err)
	return a
}

func request(endpoint, name, data string) port.TransferRequest {
	return port.TransferRequest{
		Endpoint:  endpoint,
		FieldName: "file",
		Payload:   domain.NewMemoryFile(name, []byte(data)),
	}
}

func TestAdapter_UploadMultipart(t *testing.T) {
	var contentLength atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "abc", r.Header.Get("X-Token"))
		contentLength.Store(r.ContentLength)

		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.Equal(t, "holiday", r.FormValue("album"))
		assert.Equal(t, "7", r.FormValue("order"))

		files := r.MultipartForm.File["photo"]
		if !assert.Len(t, files, 1) {
			return
		}
		assert.Equal(t, `pic "1".png`, files[0].Filename)
		assert.Equal(t, "image/png", files[0].Header.Get("Content-Type"))

		f, err := files[0].Open()
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		body, _ := io.ReadAll(f)
		assert.Equal(t, pngHeader+strings.Repeat("x", 2000), string(body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"url":"/files/pic.png"}`)
	}))
	defer srv.Close()

	a := newAdapter(t, config.BreakerConfig{})
	progress := &progressLog{}
	req := port.TransferRequest{
		Endpoint:    srv.URL + "/upload",
		FieldName:   "photo",
		ExtraFields: map[string]string{"album": "holiday", "order": "7"},
		Headers:     map[string]string{"X-Token": "abc"},
		Payload:     domain.NewMemoryFile(`pic "1".png`, []byte(pngHeader+strings.Repeat("x", 2000))),
	}

	resp, err := a.Upload(context.Background(), req, progress.record)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"url": "/files/pic.png"}, resp)

	calls := progress.snapshot()
	require.NotEmpty(t, calls)
	last := calls[len(calls)-1]
	assert.Equal(t, last[1], last[0], "final report covers the whole body")
	assert.Equal(t, contentLength.Load(), last[1])
	for i := 1; i < len(calls); i++ {
		assert.GreaterOrEqual(t, calls[i][0], calls[i-1][0])
	}
}

func TestAdapter_UploadResponseBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
		want any
	}{
		{name: "json object", body: `{"ok":true}`, want: map[string]any{"ok": true}},
		{name: "plain text", body: "stored", want: "stored"},
		{name: "empty", body: "", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.Copy(io.Discard, r.Body)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			resp, err := newAdapter(t, config.BreakerConfig{}).Upload(context.Background(), request(srv.URL, "a.txt", "hi"), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp)
		})
	}
}

func TestAdapter_UploadEmptyFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		fh := r.MultipartForm.File["file"][0]
		assert.Equal(t, "application/octet-stream", fh.Header.Get("Content-Type"))
		assert.Equal(t, int64(0), fh.Size)
	}))
	defer srv.Close()

	_, err := newAdapter(t, config.BreakerConfig{}).Upload(context.Background(), request(srv.URL, "empty.bin", ""), nil)
	assert.NoError(t, err)
}

func TestAdapter_UploadRejectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		http.Error(w, "quota exceeded", http.StatusInsufficientStorage)
	}))
	defer srv.Close()

	_, err := newAdapter(t, config.BreakerConfig{}).Upload(context.Background(), request(srv.URL, "a.txt", "hi"), nil)
	var te *port.TransferError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusInsufficientStorage, te.StatusCode)
	assert.Equal(t, "quota exceeded\n", te.Body)
}

func TestAdapter_BreakerOpensOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := newAdapter(t, config.BreakerConfig{FailureThreshold: 2, OpenTimeoutMS: 60000})
	for i := 0; i < 2; i++ {
		_, err := a.Upload(context.Background(), request(srv.URL, "a.txt", "hi"), nil)
		var te *port.TransferError
		require.ErrorAs(t, err, &te)
	}

	_, err := a.Upload(context.Background(), request(srv.URL, "a.txt", "hi"), nil)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(2), hits.Load())
}

func TestAdapter_BreakerDisabledByDefault(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.Copy(io.Discard, r.Body)
		if strings.HasPrefix(r.URL.Path, "/bad") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	a := newAdapter(t, config.DefaultConfig().Transport.Breaker)
	for i := 0; i < 10; i++ {
		_, err := a.Upload(context.Background(), request(srv.URL+"/bad", "bad.txt", "x"), nil)
		var te *port.TransferError
		require.ErrorAs(t, err, &te)
	}

	_, err := a.Upload(context.Background(), request(srv.URL+"/good", "good.txt", "x"), nil)
	require.NoError(t, err)
	assert.Equal(t, int32(11), hits.Load())
}

func TestAdapter_ClientErrorsDoNotTripBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusRequestEntityTooLarge)
	}))
	defer srv.Close()

	a := newAdapter(t, config.BreakerConfig{FailureThreshold: 1})
	for i := 0; i < 3; i++ {
		_, err := a.Upload(context.Background(), request(srv.URL, "a.txt", "hi"), nil)
		assert.NotErrorIs(t, err, resilience.ErrCircuitOpen)
	}
	assert.Equal(t, int32(3), hits.Load())
}

func TestAdapter_CallerContentTypeIgnored(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Content-Type"), "boundary=")
		assert.Equal(t, "abc", r.Header.Get("X-Token"))
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Len(t, r.MultipartForm.File["file"], 1)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	req := request(srv.URL, "a.txt", "hi")
	req.Headers = map[string]string{
		"Content-Type": "multipart/form-data",
		"content-type": "text/plain",
		"X-Token":      "abc",
	}
	_, err := newAdapter(t, config.BreakerConfig{}).Upload(context.Background(), req, nil)
	require.NoError(t, err)
}

func TestAdapter_Credentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		if c, err := r.Cookie("session"); err == nil {
			_, _ = io.WriteString(w, c.Value)
			return
		}
		_, _ = io.WriteString(w, "anonymous")
	}))
	defer srv.Close()

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	u, _ := url.Parse(srv.URL)
	jar.SetCookies(u, []*http.Cookie{{Name: "session", Value: "s3cret"}})

	a := newAdapter(t, config.BreakerConfig{}, WithHTTPClient(srv.Client()), WithCookieJar(jar))

	req := request(srv.URL, "a.txt", "hi")
	resp, err := a.Upload(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, "anonymous", resp)

	req.SendCredentials = true
	resp, err = a.Upload(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", resp)
}

func TestAdapter_UploadCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := newAdapter(t, config.BreakerConfig{FailureThreshold: 1})
	_, err := a.Upload(ctx, request(srv.URL, "a.txt", "hi"), nil)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = a.Upload(context.Background(), request(srv.URL, "a.txt", "hi"), nil)
	assert.NoError(t, err, "cancellation must not open the breaker")
}

type failingFile struct{}

func (failingFile) Name() string { return "broken" }
func (failingFile) Size() int64  { return 10 }
func (failingFile) Open() (io.ReadCloser, error) {
	return nil, errors.New("permission denied")
}

func TestAdapter_InvalidRequests(t *testing.T) {
	a := newAdapter(t, config.BreakerConfig{})

	_, err := a.Upload(context.Background(), port.TransferRequest{Endpoint: "http://x"}, nil)
	assert.Error(t, err)

	_, err = a.Upload(context.Background(), request("not a url", "a.txt", "hi"), nil)
	assert.ErrorContains(t, err, "invalid upload endpoint")

	_, err = a.Upload(context.Background(), port.TransferRequest{Endpoint: "http://127.0.0.1:1/upload", FieldName: "file", Payload: failingFile{}}, nil)
	assert.ErrorContains(t, err, "permission denied")
}
