// Package extractor turns the commit history of a remote repository into
// persisted Events and file-level Actions.
package extractor

import (
	"context"

	"github.com/rohankatakam/harvest/internal/models"
)

// RemoteRepositoryClient is the hosting backend the extraction reads from
type RemoteRepositoryClient interface {
	GetRepository(ctx context.Context, owner, name string) (*models.RepositoryInfo, error)
	// ListCommits returns the whole history, newest first
	ListCommits(ctx context.Context, owner, name string) ([]models.CommitInfo, error)
	// Compare returns the files changed between two commits
	Compare(ctx context.Context, owner, name, base, head string) ([]models.FileChange, error)
	// RemainingQuota returns the last known request quota, or -1 when unknown
	RemainingQuota() int
}

// Extractor extracts one source
type Extractor interface {
	InitializeWorkspace(ctx context.Context) error
	ExtractEvents(ctx context.Context) ([]*models.Event, error)
	ExtractActions(ctx context.Context, event *models.Event) error
}

// quotaReporter is implemented by extractors backed by a quota-limited client
type quotaReporter interface {
	RemainingQuota() int
}
