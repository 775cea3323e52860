package ports

import (
	"context"

	"filedrop/internal/domain"
)

type DropRequestStore interface {
	Create(ctx context.Context, r domain.DropRequest) (domain.DropRequest, error)
	Get(ctx context.Context, id domain.RequestID) (domain.DropRequest, error)
	ListPending(ctx context.Context, receiverAlias string) ([]domain.DropRequest, error)
	UpdateStatus(ctx context.Context, id domain.RequestID, status domain.RequestStatus, receiverID string) error
	SetDescriptor(ctx context.Context, id domain.RequestID, descriptor string) error
	// WatchPending streams changes to the pending requests addressed to
	// receiverAlias until ctx ends. The initial result set is delivered as
	// Added changes. Transient failures are reported to onErr and retried.
	WatchPending(ctx context.Context, receiverAlias string, onChange func(domain.RequestChange), onErr func(error)) error
}
