package negotiation

import (
	"sort"
	"sync"

	"filedrop/internal/domain"
)

// Subscription is one receiver's live view of its pending requests.
type Subscription struct {
	alias    string
	onChange func(domain.RequestChange)
	cancel   func()
	done     chan struct{}

	mu      sync.Mutex
	pending map[domain.RequestID]domain.DropRequest
}

func (s *Subscription) Alias() string { return s.alias }

// apply folds change into the local list and forwards it only when it
// changed the list.
func (s *Subscription) apply(change domain.RequestChange) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := change.Request.ID
	switch change.Kind {
	case domain.ChangeAdded:
		if _, ok := s.pending[id]; ok {
			return
		}
		s.pending[id] = change.Request
	case domain.ChangeRemoved:
		prev, ok := s.pending[id]
		if !ok {
			return
		}
		delete(s.pending, id)
		if change.Request.Filename == "" {
			change.Request = prev
		}
	default:
		return
	}
	s.onChange(change)
}

// Pending returns the local pending list, oldest first.
func (s *Subscription) Pending() []domain.DropRequest {
	s.mu.Lock()
	out := make([]domain.DropRequest, 0, len(s.pending))
	for _, r := range s.pending {
		out = append(out, r)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Done is closed once the watcher has stopped.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close releases the live query and waits for the watcher to stop. Safe to
// call more than once.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}
