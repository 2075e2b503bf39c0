package ports

import (
	"context"

	"magnetstream/internal/domain"
)

// Catalog persists session records for listing and history. Implementations
// must return domain.ErrNotFound for unknown hashes and
// domain.ErrAlreadyExists on duplicate create.
type Catalog interface {
	Create(ctx context.Context, rec domain.SessionRecord) error
	UpdateProgress(ctx context.Context, id domain.InfoHash, doneBytes int64) error
	Get(ctx context.Context, id domain.InfoHash) (domain.SessionRecord, error)
	List(ctx context.Context) ([]domain.SessionRecord, error)
}
