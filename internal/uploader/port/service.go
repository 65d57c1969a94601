package port

import (
	"github.com/anthanhphan/go-upload-orchestrator/internal/uploader/domain"
)

//go:generate mockgen -destination=../service/mocks/upload_manager_mock.go -package=mocks -source=service.go

// UploadManager is the orchestration surface consumed by inbound adapters.
type UploadManager interface {
	// Submit admits and dispatches every file of batch in the background.
	Submit(batch []domain.RawFile)

	// Remove deletes a record. Unknown ids are ignored.
	Remove(id string)

	// Snapshot returns the current roster.
	Snapshot() domain.Roster

	// Subscribe streams roster snapshots after each committed mutation. The
	// channel holds only the latest snapshot; call the returned func to stop.
	Subscribe() (<-chan domain.Roster, func())
}
