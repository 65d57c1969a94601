package http_transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/textproto"
	"net/url"
	"slices"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"

	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/config"
	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/port"
	"github.com/anthanhphan/go-upload-orchestrator/pkg/resilience"
	"github.com/anthanhphan/gosdk/logger"
)

const (
	sniffLen        = 512
	maxResponseBody = 1 << 20
)

// Adapter posts each file as a multipart/form-data request.
type Adapter struct {
	anonymous   *http.Client
	credentials *http.Client
	breakerCfg  config.BreakerConfig

	mu       sync.RWMutex
	breakers map[string]*resilience.CircuitBreaker
}

type Option func(*Adapter)

// WithHTTPClient replaces the underlying client. Requests sent with
// credentials still get the adapter's cookie jar unless c has its own.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) {
		if c == nil {
			return
		}
		anon := *c
		anon.Jar = nil
		a.anonymous = &anon

		cred := *c
		if cred.Jar == nil {
			cred.Jar = a.credentials.Jar
		}
		a.credentials = &cred
	}
}

// WithCookieJar sets the jar used for requests sent with credentials.
func WithCookieJar(jar http.CookieJar) Option {
	return func(a *Adapter) {
		if jar != nil {
			a.credentials.Jar = jar
		}
	}
}

func New(breaker config.BreakerConfig, opts ...Option) (*Adapter, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	a := &Adapter{
		anonymous:   &http.Client{},
		credentials: &http.Client{Jar: jar},
		breakerCfg:  breaker,
		breakers:    make(map[string]*resilience.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Ensure Adapter implements port.TransferPort
var _ port.TransferPort = (*Adapter)(nil)

func (a *Adapter) Upload(ctx context.Context, req port.TransferRequest, onProgress port.ProgressFunc) (any, error) {
	if req.Payload == nil {
		return nil, errors.New("upload payload is required")
	}
	target, err := url.Parse(req.Endpoint)
	if err != nil || target.Host == "" {
		return nil, fmt.Errorf("invalid upload endpoint %q", req.Endpoint)
	}

	var response any
	if a.breakerCfg.Enabled() {
		err = a.getBreaker(target.Host).Execute(ctx, func(execCtx context.Context) error {
			var sendErr error
			response, sendErr = a.send(execCtx, req, onProgress)
			return sendErr
		})
	} else {
		response, err = a.send(ctx, req, onProgress)
	}
	if err != nil {
		a.logErr(target.Host, req.Payload.Name(), err)
		return nil, err
	}
	return response, nil
}

func (a *Adapter) send(ctx context.Context, req port.TransferRequest, onProgress port.ProgressFunc) (any, error) {
	body, contentType, length, err := encodeMultipart(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Endpoint, &progressReader{
		body:       body,
		total:      length,
		onProgress: onProgress,
	})
	if err != nil {
		_ = body.Close()
		return nil, err
	}
	httpReq.ContentLength = length
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	// The boundary lives in this header, so a caller value never wins.
	httpReq.Header.Set("Content-Type", contentType)

	client := a.anonymous
	if req.SendCredentials {
		client = a.credentials
	}

	res, err := client.Do(httpReq)
	if err != nil {
		return nil, normalizeErr(ctx, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBody))
	if err != nil {
		return nil, normalizeErr(ctx, err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, &port.TransferError{StatusCode: res.StatusCode, Body: string(raw)}
	}
	return decodeResponse(raw), nil
}

// encodeMultipart lays out the form around the file without buffering the
// file itself, so the exact body length is known up front.
func encodeMultipart(req port.TransferRequest) (io.ReadCloser, string, int64, error) {
	file, err := req.Payload.Open()
	if err != nil {
		return nil, "", 0, fmt.Errorf("open %s: %w", req.Payload.Name(), err)
	}

	sniff := make([]byte, sniffLen)
	n, err := io.ReadFull(file, sniff)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		_ = file.Close()
		return nil, "", 0, fmt.Errorf("read %s: %w", req.Payload.Name(), err)
	}
	sniff = sniff[:n]

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	keys := make([]string, 0, len(req.ExtraFields))
	for k := range req.ExtraFields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if err := w.WriteField(k, req.ExtraFields[k]); err != nil {
			_ = file.Close()
			return nil, "", 0, err
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		escapeQuotes(req.FieldName), escapeQuotes(req.Payload.Name())))
	h.Set("Content-Type", partType(sniff))
	if _, err := w.CreatePart(h); err != nil {
		_ = file.Close()
		return nil, "", 0, err
	}
	headLen := buf.Len()
	if err := w.Close(); err != nil {
		_ = file.Close()
		return nil, "", 0, err
	}
	head := bytes.Clone(buf.Bytes()[:headLen])
	tail := bytes.Clone(buf.Bytes()[headLen:])

	length := int64(len(head)) + req.Payload.Size() + int64(len(tail))
	body := &multipartBody{
		Reader: io.MultiReader(bytes.NewReader(head), bytes.NewReader(sniff), file, bytes.NewReader(tail)),
		file:   file,
	}
	return body, w.FormDataContentType(), length, nil
}

func partType(sniff []byte) string {
	if len(sniff) == 0 {
		return "application/octet-stream"
	}
	return mimetype.Detect(sniff).String()
}

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// decodeResponse returns the parsed JSON body, or the raw text when it is not JSON.
func decodeResponse(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

type multipartBody struct {
	io.Reader
	file io.Closer
}

func (b *multipartBody) Close() error { return b.file.Close() }

// progressReader reports cumulative bytes handed to the connection.
type progressReader struct {
	body       io.ReadCloser
	total      int64
	sent       int64
	onProgress port.ProgressFunc
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.body.Read(p)
	if n > 0 && r.onProgress != nil {
		r.sent += int64(n)
		r.onProgress(r.sent, r.total)
	}
	return n, err
}

func (r *progressReader) Close() error { return r.body.Close() }

func (a *Adapter) getBreaker(host string) *resilience.CircuitBreaker {
	a.mu.RLock()
	cb, ok := a.breakers[host]
	a.mu.RUnlock()
	if ok {
		return cb
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if cb, ok = a.breakers[host]; ok {
		return cb
	}
	cb = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             host,
		FailureThreshold: a.breakerCfg.FailureThreshold,
		SuccessThreshold: a.breakerCfg.SuccessThreshold,
		OpenTimeout:      a.breakerCfg.OpenTimeout(),
		IsFailure:        countsAgainstHost,
	})
	a.breakers[host] = cb
	return cb
}

// countsAgainstHost ignores cancellation and client errors, which say nothing
// about the health of the receiving server.
func countsAgainstHost(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var te *port.TransferError
	if errors.As(err, &te) && te.StatusCode >= 400 && te.StatusCode < 500 {
		return false
	}
	return true
}

func (a *Adapter) logErr(host, fileName string, err error) {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		logger.Warnw("Upload short-circuited", "host", host, "file_name", fileName, "error", err.Error())
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	logger.Warnw("Upload request failed", "host", host, "file_name", fileName, "error", err.Error())
}

func normalizeErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}
