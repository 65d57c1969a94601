package port

import (
	"context"
	"fmt"

	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/domain"
)

//go:generate mockgen -destination=../service/mocks/transfer_port_mock.go -package=mocks -source=transfer.go

// ProgressFunc receives byte progress of a single transfer. Calls for one
// transfer are serialized and ordered.
type ProgressFunc func(loadedBytes, totalBytes int64)

// TransferRequest describes one file upload.
type TransferRequest struct {
	Endpoint        string
	FieldName       string
	ExtraFields     map[string]string
	Headers         map[string]string
	SendCredentials bool
	Payload         domain.RawFile
}

// TransferPort performs a single file upload.
type TransferPort interface {
	// Upload sends req and blocks until the remote side answers. The returned
	// response is opaque to callers; a non-nil error is the failure payload.
	Upload(ctx context.Context, req TransferRequest, onProgress ProgressFunc) (any, error)
}

// TransferError is returned for a completed exchange with a non-success status.
type TransferError struct {
	StatusCode int
	Body       string
}

func (e *TransferError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upload rejected with status %d", e.StatusCode)
	}
	return fmt.Sprintf("upload rejected with status %d: %s", e.StatusCode, e.Body)
}
