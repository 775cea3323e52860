package status

import (
	"log/slog"
	"sync"

	"filedrop/internal/domain"
	"filedrop/internal/metrics"
)

// Observer receives published events. Calls happen on the publisher's
// caller goroutine, so implementations must return quickly.
type Observer interface {
	OnStatus(event domain.StatusEvent)
	OnError(event domain.ErrorEvent)
}

type attachment struct {
	observer Observer
}

// Publisher fans events out to at most one observer per screen. Delivery is
// best effort: an event published while a screen has no observer is lost.
type Publisher struct {
	mu      sync.RWMutex
	screens map[string]*attachment
	logger  *slog.Logger
}

func NewPublisher(logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		screens: make(map[string]*attachment),
		logger:  logger,
	}
}

// Attach makes obs the observer for screen, replacing any previous one. The
// returned detach func removes obs only if it is still the current observer.
func (p *Publisher) Attach(screen string, obs Observer) (detach func()) {
	a := &attachment{observer: obs}
	p.mu.Lock()
	_, replaced := p.screens[screen]
	p.screens[screen] = a
	p.mu.Unlock()

	if replaced {
		p.logger.Debug("status observer replaced", slog.String("screen", screen))
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			if p.screens[screen] == a {
				delete(p.screens, screen)
			}
			p.mu.Unlock()
		})
	}
}

func (p *Publisher) PublishStatus(event domain.StatusEvent) {
	metrics.StatusEventsTotal.WithLabelValues(terminalLabel(event.Terminal)).Inc()
	for _, obs := range p.snapshot() {
		obs.OnStatus(event)
	}
}

func (p *Publisher) PublishError(event domain.ErrorEvent) {
	metrics.ErrorEventsTotal.Inc()
	for _, obs := range p.snapshot() {
		obs.OnError(event)
	}
}

func (p *Publisher) ObserverCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.screens)
}

func (p *Publisher) snapshot() []Observer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Observer, 0, len(p.screens))
	for _, a := range p.screens {
		out = append(out, a.observer)
	}
	return out
}

func terminalLabel(terminal bool) string {
	if terminal {
		return "terminal"
	}
	return "progress"
}
