package remote

import (
	"context"
	"fmt"

	"github.com/olegkotsar/dupesweep/config"
	"github.com/olegkotsar/dupesweep/model"
)

// ListPage is one page of a directory listing.
type ListPage struct {
	Entries       []model.RemoteEntry
	NextPageToken string // empty on the last page
}

// BatchSubmission is the provider's answer to a delete batch. A non-empty
// JobID means the batch runs asynchronously and must be polled with CheckJob;
// otherwise Outcomes already holds the per-path results.
type BatchSubmission struct {
	JobID    string
	Outcomes []model.PathOutcome
}

// JobStatus is the state of an asynchronous delete job.
type JobStatus struct {
	Done          bool
	Outcomes      []model.PathOutcome
	FailureReason string // set when the job as a whole failed
	RateLimited   bool   // the job failed because of throttling
}

// StorageProvider is the remote file store a sweep runs against.
type StorageProvider interface {
	Name() string
	// ListPage lists one page of root. An empty pageToken starts a new listing.
	ListPage(ctx context.Context, root, pageToken string) (*ListPage, error)
	// ListsRecursively reports whether ListPage already descends into subdirectories.
	ListsRecursively() bool
	// DeleteBatch submits paths for deletion; a missing path is not an error.
	DeleteBatch(ctx context.Context, paths []string) (*BatchSubmission, error)
	// CheckJob polls an asynchronous job. An unknown job yields ErrNotFound.
	CheckJob(ctx context.Context, jobID string) (*JobStatus, error)
	MaxBatchSize() int
	Close() error
}

// Fingerprinter is implemented by providers whose listings carry no content
// fingerprint and have to derive one from the file body.
type Fingerprinter interface {
	Fingerprint(ctx context.Context, path string) (string, error)
}

// CreateStorage creates a storage provider based on configuration
func CreateStorage(cfg *config.StorageConfig) (StorageProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid storage configuration: %w", err)
	}

	switch cfg.StorageType {
	case config.StorageTypeS3:
		return NewS3Storage(cfg.S3, &cfg.Common)
	case config.StorageTypeDropbox:
		return NewDropboxStorage(cfg.Dropbox, &cfg.Common)
	case config.StorageTypeFTP:
		return NewFTPStorage(cfg.FTP, &cfg.Common)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.StorageType)
	}
}
