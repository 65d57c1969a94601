// Package s3_transfer uploads files straight to an S3 bucket. The upload
// endpoint has the form s3://bucket/optional/prefix.
package s3_transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go/middleware"
	"github.com/gabriel-vasile/mimetype"

	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/config"
	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/port"
	"github.com/anthanhphan/go-upload-orchestrator/pkg/resilience"
	"github.com/anthanhphan/gosdk/logger"
)

const sniffLen = 512

// PutObjectAPI is the part of the S3 client the adapter needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Adapter struct {
	client     PutObjectAPI
	breakerCfg config.BreakerConfig

	mu       sync.RWMutex
	breakers map[string]*resilience.CircuitBreaker
}

// New builds an adapter on the default AWS credential chain.
func New(ctx context.Context, cfg config.S3Config, breaker config.BreakerConfig) (*Adapter, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithClient(client, breaker), nil
}

// NewWithClient builds an adapter around an existing client.
func NewWithClient(client PutObjectAPI, breaker config.BreakerConfig) *Adapter {
	return &Adapter{
		client:     client,
		breakerCfg: breaker,
		breakers:   make(map[string]*resilience.CircuitBreaker),
	}
}

// Ensure Adapter implements port.TransferPort
var _ port.TransferPort = (*Adapter)(nil)

// Upload stores the payload under prefix/name. Extra fields become object
// metadata; headers and credentials settings do not apply to S3.
func (a *Adapter) Upload(ctx context.Context, req port.TransferRequest, onProgress port.ProgressFunc) (any, error) {
	if req.Payload == nil {
		return nil, errors.New("upload payload is required")
	}
	bucket, prefix, err := parseEndpoint(req.Endpoint)
	if err != nil {
		return nil, err
	}
	key := path.Join(prefix, req.Payload.Name())

	var out *s3.PutObjectOutput
	if a.breakerCfg.Enabled() {
		err = a.getBreaker(bucket).Execute(ctx, func(execCtx context.Context) error {
			var putErr error
			out, putErr = a.put(execCtx, bucket, key, req, onProgress)
			return putErr
		})
	} else {
		out, err = a.put(ctx, bucket, key, req, onProgress)
	}
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logger.Warnw("S3 upload failed", "bucket", bucket, "key", key, "error", err.Error())
		}
		return nil, err
	}

	return map[string]any{
		"bucket":   bucket,
		"key":      key,
		"etag":     strings.Trim(aws.ToString(out.ETag), `"`),
		"location": "s3://" + bucket + "/" + key,
	}, nil
}

func (a *Adapter) put(ctx context.Context, bucket, key string, req port.TransferRequest, onProgress port.ProgressFunc) (*s3.PutObjectOutput, error) {
	file, err := req.Payload.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", req.Payload.Name(), err)
	}
	defer file.Close()

	body, contentType, err := seekableBody(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", req.Payload.Name(), err)
	}

	progress := &progressReader{body: body, total: req.Payload.Size(), onProgress: onProgress}
	input := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          progress,
		ContentLength: aws.Int64(req.Payload.Size()),
		ContentType:   aws.String(contentType),
	}
	if len(req.ExtraFields) > 0 {
		input.Metadata = req.ExtraFields
	}

	out, err := a.client.PutObject(ctx, input, reportWhileSending(progress))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("put s3://%s/%s: %w", bucket, key, err)
	}
	return out, nil
}

// seekableBody sniffs the content type and rewinds. The SDK needs a seekable
// body to sign and retry, so other readers are buffered.
func seekableBody(r io.Reader) (io.ReadSeeker, string, error) {
	rs, ok := r.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, "", err
		}
		rs = bytes.NewReader(data)
	}

	sniff := make([]byte, sniffLen)
	n, err := io.ReadFull(rs, sniff)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, "", err
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, "", err
	}

	contentType := "application/octet-stream"
	if n > 0 {
		contentType = mimetype.Detect(sniff[:n]).String()
	}
	return rs, contentType, nil
}

func parseEndpoint(endpoint string) (bucket, prefix string, err error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("invalid s3 endpoint %q, want s3://bucket/prefix", endpoint)
	}
	return u.Host, strings.Trim(u.Path, "/"), nil
}

// reportWhileSending opens the progress gate when the request reaches the
// deserialize step. Signing and checksum middleware read the body earlier in
// the finalize step, and those reads are not transfer progress.
func reportWhileSending(r *progressReader) func(*s3.Options) {
	return func(o *s3.Options) {
		o.APIOptions = append(o.APIOptions, func(stack *middleware.Stack) error {
			return stack.Deserialize.Add(middleware.DeserializeMiddlewareFunc("UploaderSendProgress",
				func(ctx context.Context, in middleware.DeserializeInput, next middleware.DeserializeHandler) (middleware.DeserializeOutput, middleware.Metadata, error) {
					r.startSending()
					return next.HandleDeserialize(ctx, in)
				}), middleware.Before)
		})
	}
}

// progressReader counts bytes read since the last rewind, once sending started.
type progressReader struct {
	body       io.ReadSeeker
	total      int64
	read       int64
	sending    atomic.Bool
	onProgress port.ProgressFunc
}

func (r *progressReader) startSending() { r.sending.Store(true) }

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.body.Read(p)
	r.read += int64(n)
	if n > 0 && r.onProgress != nil && r.sending.Load() {
		r.onProgress(min(r.read, r.total), r.total)
	}
	return n, err
}

func (r *progressReader) Seek(offset int64, whence int) (int64, error) {
	pos, err := r.body.Seek(offset, whence)
	if err == nil {
		r.read = pos
	}
	return pos, err
}

func (a *Adapter) getBreaker(bucket string) *resilience.CircuitBreaker {
	a.mu.RLock()
	cb, ok := a.breakers[bucket]
	a.mu.RUnlock()
	if ok {
		return cb
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if cb, ok = a.breakers[bucket]; ok {
		return cb
	}
	cb = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "s3:" + bucket,
		FailureThreshold: a.breakerCfg.FailureThreshold,
		SuccessThreshold: a.breakerCfg.SuccessThreshold,
		OpenTimeout:      a.breakerCfg.OpenTimeout(),
	})
	a.breakers[bucket] = cb
	return cb
}
