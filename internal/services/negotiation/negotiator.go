// Package negotiation implements the drop request handshake: senders create
// pending requests, receivers watch the requests addressed to them and accept
// or decline them.
package negotiation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"filedrop/internal/domain"
	"filedrop/internal/domain/ports"
	"filedrop/internal/metrics"
)

type Namer interface {
	Alias(accountID string) string
}

// ErrorSink receives negotiation failures for broadcast.
type ErrorSink interface {
	PublishError(event domain.ErrorEvent)
}

type Config struct {
	Store  ports.DropRequestStore
	Namer  Namer
	Errors ErrorSink
	Logger *slog.Logger
	Now    func() time.Time
	NewID  func() domain.RequestID
}

type Negotiator struct {
	store  ports.DropRequestStore
	namer  Namer
	errs   ErrorSink
	logger *slog.Logger
	now    func() time.Time
	newID  func() domain.RequestID

	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func New(cfg Config) *Negotiator {
	n := &Negotiator{
		store:  cfg.Store,
		namer:  cfg.Namer,
		errs:   cfg.Errors,
		logger: cfg.Logger,
		now:    cfg.Now,
		newID:  cfg.NewID,
		subs:   make(map[*Subscription]struct{}),
	}
	if n.logger == nil {
		n.logger = slog.Default()
	}
	if n.now == nil {
		n.now = time.Now
	}
	if n.newID == nil {
		n.newID = func() domain.RequestID { return domain.RequestID(uuid.NewString()) }
	}
	return n
}

// CreateRequest writes a pending request from senderID to the receiver owning
// receiverAlias.
func (n *Negotiator) CreateRequest(ctx context.Context, senderID, receiverAlias, filename string, filesize int64) (domain.DropRequest, error) {
	now := n.now().UTC()
	r := domain.DropRequest{
		ID:            n.newID(),
		SenderID:      strings.TrimSpace(senderID),
		ReceiverAlias: strings.TrimSpace(receiverAlias),
		Filename:      strings.TrimSpace(filename),
		Filesize:      filesize,
		Status:        domain.RequestPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.Validate(); err != nil {
		return domain.DropRequest{}, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	r.SenderAlias = n.namer.Alias(r.SenderID)

	created, err := n.store.Create(ctx, r)
	if err != nil {
		return domain.DropRequest{}, fmt.Errorf("%w: create: %v", domain.ErrStoreWrite, err)
	}
	metrics.DropRequestsTotal.WithLabelValues(string(domain.RequestPending)).Inc()
	n.logger.Info("drop request created",
		slog.String("requestId", string(created.ID)),
		slog.String("senderAlias", created.SenderAlias),
		slog.String("receiverAlias", created.ReceiverAlias),
		slog.String("filename", created.Filename),
	)
	return created, nil
}

// Accept marks request accepted by receiverID. The request leaves every local
// pending list before the write; a failed write is returned wrapped in
// ErrStoreWrite and also broadcast.
func (n *Negotiator) Accept(ctx context.Context, request domain.DropRequest, receiverID string) error {
	return n.resolve(ctx, request.ID, domain.RequestAccepted, receiverID)
}

// Decline marks request declined. Not retried.
func (n *Negotiator) Decline(ctx context.Context, request domain.DropRequest) error {
	return n.resolve(ctx, request.ID, domain.RequestDeclined, "")
}

func (n *Negotiator) resolve(ctx context.Context, id domain.RequestID, status domain.RequestStatus, receiverID string) error {
	n.dropLocal(id)

	if err := n.store.UpdateStatus(ctx, id, status, receiverID); err != nil {
		n.logger.Warn("drop request update failed",
			slog.String("requestId", string(id)),
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
		n.reportError(domain.ErrorEvent{
			RequestID: id,
			Message:   fmt.Sprintf("could not mark request %s: %v", status, err),
		})
		return fmt.Errorf("%w: %s: %v", domain.ErrStoreWrite, status, err)
	}
	metrics.DropRequestsTotal.WithLabelValues(string(status)).Inc()
	n.logger.Info("drop request resolved",
		slog.String("requestId", string(id)),
		slog.String("status", string(status)),
	)
	return nil
}

// AttachDescriptor stores the transfer descriptor the receiver needs.
func (n *Negotiator) AttachDescriptor(ctx context.Context, id domain.RequestID, descriptor string) error {
	if strings.TrimSpace(descriptor) == "" {
		return fmt.Errorf("%w: descriptor is required", domain.ErrInvalidRequest)
	}
	if err := n.store.SetDescriptor(ctx, id, descriptor); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: descriptor: %v", domain.ErrStoreWrite, err)
	}
	return nil
}

func (n *Negotiator) Get(ctx context.Context, id domain.RequestID) (domain.DropRequest, error) {
	return n.store.Get(ctx, id)
}

func (n *Negotiator) ListPending(ctx context.Context, receiverAlias string) ([]domain.DropRequest, error) {
	if strings.TrimSpace(receiverAlias) == "" {
		return nil, fmt.Errorf("%w: alias is required", domain.ErrInvalidRequest)
	}
	return n.store.ListPending(ctx, receiverAlias)
}

// Subscribe starts a live query for the pending requests addressed to
// ownAlias. onChange is called sequentially and must not block. The
// subscription ends on Close or when ctx ends.
func (n *Negotiator) Subscribe(ctx context.Context, ownAlias string, onChange func(domain.RequestChange)) (*Subscription, error) {
	ownAlias = strings.TrimSpace(ownAlias)
	if ownAlias == "" {
		return nil, fmt.Errorf("%w: alias is required", domain.ErrInvalidRequest)
	}
	if onChange == nil {
		onChange = func(domain.RequestChange) {}
	}

	subCtx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		alias:    ownAlias,
		onChange: onChange,
		cancel:   cancel,
		done:     make(chan struct{}),
		pending:  make(map[domain.RequestID]domain.DropRequest),
	}

	n.mu.Lock()
	n.subs[s] = struct{}{}
	n.mu.Unlock()
	metrics.ActiveSubscriptions.Inc()

	go func() {
		defer close(s.done)
		defer n.unregister(s)
		err := n.store.WatchPending(subCtx, ownAlias, s.apply, func(err error) {
			n.watchFailed(ownAlias, err)
		})
		if err != nil && !errors.Is(err, context.Canceled) && subCtx.Err() == nil {
			n.watchFailed(ownAlias, err)
		}
	}()

	n.logger.Debug("pending subscription opened", slog.String("alias", ownAlias))
	return s, nil
}

func (n *Negotiator) unregister(s *Subscription) {
	n.mu.Lock()
	_, ok := n.subs[s]
	delete(n.subs, s)
	n.mu.Unlock()
	if ok {
		metrics.ActiveSubscriptions.Dec()
	}
}

// dropLocal removes id from every open subscription's pending list.
func (n *Negotiator) dropLocal(id domain.RequestID) {
	n.mu.Lock()
	subs := make([]*Subscription, 0, len(n.subs))
	for s := range n.subs {
		subs = append(subs, s)
	}
	n.mu.Unlock()

	for _, s := range subs {
		s.apply(domain.RequestChange{Kind: domain.ChangeRemoved, Request: domain.DropRequest{ID: id}})
	}
}

func (n *Negotiator) watchFailed(alias string, err error) {
	n.logger.Warn("pending watch failed",
		slog.String("alias", alias),
		slog.String("error", err.Error()),
	)
	n.reportError(domain.ErrorEvent{Message: "request watch failed: " + err.Error()})
}

func (n *Negotiator) reportError(ev domain.ErrorEvent) {
	if n.errs != nil {
		n.errs.PublishError(ev)
	}
}

// SubscriptionCount returns the number of open subscriptions.
func (n *Negotiator) SubscriptionCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}
