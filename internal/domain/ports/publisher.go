package ports

import "filedrop/internal/domain"

// StatusSink receives coordinator output. Implementations must not block.
type StatusSink interface {
	PublishStatus(event domain.StatusEvent)
	PublishError(event domain.ErrorEvent)
}
