package s3_transfer

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go/middleware"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/config"
	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/domain"
	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/port"
	"github.com/anthanhphan/go-upload-orchestrator/pkg/resilience"
)

// fakeS3 runs the per-call middleware around a send that reads the whole
// body, and records the input. With checksum set it first reads and rewinds
// the body the way payload hashing does.
type fakeS3 struct {
	mu       sync.Mutex
	inputs   []*s3.PutObjectInput
	bodies   []string
	err      error
	checksum bool
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	var opts s3.Options
	for _, fn := range optFns {
		fn(&opts)
	}
	stack := middleware.NewStack("PutObject", smithyhttp.NewStackRequest)
	for _, apply := range opts.APIOptions {
		if err := apply(stack); err != nil {
			return nil, err
		}
	}

	if f.checksum {
		if _, err := io.Copy(io.Discard, in.Body); err != nil {
			return nil, err
		}
		if _, err := in.Body.(io.Seeker).Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
	}

	var data []byte
	send := middleware.HandlerFunc(func(context.Context, interface{}) (interface{}, middleware.Metadata, error) {
		var err error
		data, err = io.ReadAll(in.Body)
		return nil, middleware.Metadata{}, err
	})
	if _, _, err := middleware.DecorateHandler(send, stack).Handle(ctx, in); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, string(data))
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{ETag: aws.String(`"etag-1"`)}, nil
}

func TestAdapter_Upload(t *testing.T) {
	fake := &fakeS3{}
	a := NewWithClient(fake, config.BreakerConfig{})

	var last [2]int64
	req := port.TransferRequest{
		Endpoint:    "s3://media/incoming/",
		ExtraFields: map[string]string{"album": "holiday"},
		Payload:     domain.NewMemoryFile("a.png", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")),
	}
	resp, err := a.Upload(context.Background(), req, func(loaded, total int64) { last = [2]int64{loaded, total} })
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"bucket":   "media",
		"key":      "incoming/a.png",
		"etag":     "etag-1",
		"location": "s3://media/incoming/a.png",
	}, resp)

	require.Len(t, fake.inputs, 1)
	in := fake.inputs[0]
	assert.Equal(t, "media", aws.ToString(in.Bucket))
	assert.Equal(t, "incoming/a.png", aws.ToString(in.Key))
	assert.Equal(t, "image/png", aws.ToString(in.ContentType))
	assert.Equal(t, int64(16), aws.ToInt64(in.ContentLength))
	assert.Equal(t, map[string]string{"album": "holiday"}, in.Metadata)
	assert.Len(t, fake.bodies[0], 16, "sniffing must not consume the body")
	assert.Equal(t, [2]int64{16, 16}, last)
}

func TestAdapter_UploadWithoutPrefix(t *testing.T) {
	fake := &fakeS3{}
	resp, err := NewWithClient(fake, config.BreakerConfig{}).Upload(context.Background(), port.TransferRequest{
		Endpoint: "s3://media",
		Payload:  domain.NewMemoryFile("notes.txt", []byte("hello")),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", resp.(map[string]any)["key"])
	assert.Equal(t, "text/plain; charset=utf-8", aws.ToString(fake.inputs[0].ContentType))
	assert.Nil(t, fake.inputs[0].Metadata)
}

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		bucket   string
		prefix   string
		wantErr  bool
	}{
		{endpoint: "s3://b", bucket: "b"},
		{endpoint: "s3://b/x/y/", bucket: "b", prefix: "x/y"},
		{endpoint: "http://b/x", wantErr: true},
		{endpoint: "s3:///x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			bucket, prefix, err := parseEndpoint(tt.endpoint)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.bucket, bucket)
			assert.Equal(t, tt.prefix, prefix)
		})
	}
}

func TestAdapter_UploadFailureOpensBreaker(t *testing.T) {
	fake := &fakeS3{err: errors.New("SlowDown")}
	a := NewWithClient(fake, config.BreakerConfig{FailureThreshold: 1, OpenTimeoutMS: 60000})
	req := port.TransferRequest{Endpoint: "s3://media", Payload: domain.NewMemoryFile("a.txt", []byte("x"))}

	_, err := a.Upload(context.Background(), req, nil)
	assert.ErrorContains(t, err, "SlowDown")

	_, err = a.Upload(context.Background(), req, nil)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Len(t, fake.inputs, 1)
}

func TestAdapter_UploadFailuresWithoutBreaker(t *testing.T) {
	fake := &fakeS3{err: errors.New("SlowDown")}
	a := NewWithClient(fake, config.DefaultConfig().Transport.Breaker)
	req := port.TransferRequest{Endpoint: "s3://media", Payload: domain.NewMemoryFile("a.txt", []byte("x"))}

	for i := 0; i < 10; i++ {
		_, err := a.Upload(context.Background(), req, nil)
		assert.ErrorContains(t, err, "SlowDown")
		assert.NotErrorIs(t, err, resilience.ErrCircuitOpen)
	}
	assert.Len(t, fake.inputs, 10)
}

func TestAdapter_UploadIgnoresChecksumReads(t *testing.T) {
	fake := &fakeS3{checksum: true}
	a := NewWithClient(fake, config.BreakerConfig{})

	var reports []int64
	data := make([]byte, 3*sniffLen)
	req := port.TransferRequest{Endpoint: "s3://media", Payload: domain.NewMemoryFile("a.bin", data)}
	_, err := a.Upload(context.Background(), req, func(loaded, _ int64) { reports = append(reports, loaded) })
	require.NoError(t, err)

	require.NotEmpty(t, reports)
	assert.IsNonDecreasing(t, reports)
	assert.Equal(t, int64(len(data)), reports[len(reports)-1])
	assert.Len(t, fake.bodies[0], len(data))
}

func TestProgressReaderSilentBeforeSend(t *testing.T) {
	var reports []int64
	file := domain.NewMemoryFile("a", []byte("abcdef"))
	rc, err := file.Open()
	require.NoError(t, err)

	r := &progressReader{body: rc.(io.ReadSeeker), total: 6, onProgress: func(loaded, _ int64) { reports = append(reports, loaded) }}
	_, _ = io.ReadAll(r)
	assert.Empty(t, reports)

	_, err = r.Seek(0, io.SeekStart)
	require.NoError(t, err)
	r.startSending()
	_, _ = io.ReadAll(r)
	assert.Equal(t, []int64{6}, reports)
}

func TestProgressReaderRewind(t *testing.T) {
	var reports []int64
	file := domain.NewMemoryFile("a", []byte("abcdef"))
	rc, err := file.Open()
	require.NoError(t, err)

	r := &progressReader{body: rc.(io.ReadSeeker), total: 6, onProgress: func(loaded, _ int64) { reports = append(reports, loaded) }}
	r.startSending()
	buf := make([]byte, 4)
	_, _ = r.Read(buf)
	_, err = r.Seek(0, io.SeekStart)
	require.NoError(t, err)
	_, _ = io.ReadAll(r)

	assert.Equal(t, []int64{4, 6}, reports)
}
