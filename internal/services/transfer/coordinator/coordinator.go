// Package coordinator turns accepted drop requests into live transfer
// sessions on one shared engine and translates engine alerts into status
// events.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"filedrop/internal/domain"
	"filedrop/internal/domain/ports"
	"filedrop/internal/metrics"
)

type Config struct {
	Factory ports.EngineFactory
	Sink    ports.StatusSink
	Logger  *slog.Logger
	Now     func() time.Time
}

// entry is the single table row for a request: the session view plus the
// engine generation holding its native session.
type entry struct {
	session domain.TransferSession
	engine  ports.TransferEngine
}

type Coordinator struct {
	factory ports.EngineFactory
	sink    ports.StatusSink
	logger  *slog.Logger
	now     func() time.Time

	// lifecycle serialises engine creation and teardown. Lock order is
	// lifecycle, then mu.
	lifecycle sync.Mutex
	// dispatch serialises alert handling so events for one request are
	// published in alert order.
	dispatch sync.Mutex

	mu       sync.RWMutex
	engine   ports.TransferEngine
	loopDone chan struct{}
	sessions map[domain.RequestID]*entry
}

func New(cfg Config) *Coordinator {
	c := &Coordinator{
		factory:  cfg.Factory,
		sink:     cfg.Sink,
		logger:   cfg.Logger,
		now:      cfg.Now,
		sessions: make(map[domain.RequestID]*entry),
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.sink == nil {
		c.sink = discardSink{}
	}
	return c
}

// Open builds the engine if none is running. Start calls do this lazily;
// Open lets the composition root fail fast.
func (c *Coordinator) Open() error {
	_, err := c.ensureEngine()
	return err
}

// StartSeeding starts seeding file for request id and returns the descriptor
// the receiver needs.
func (c *Coordinator) StartSeeding(ctx context.Context, file string, id domain.RequestID) (string, error) {
	info, err := os.Stat(file)
	if err != nil || info.IsDir() {
		metrics.StartFailuresTotal.WithLabelValues("input").Inc()
		return "", fmt.Errorf("%w: %s", domain.ErrFileNotFound, file)
	}

	eng, err := c.ensureEngine()
	if err != nil {
		return "", err
	}
	e, err := c.reserve(eng, id, domain.RoleSeed, filepath.Dir(file))
	if err != nil {
		return "", err
	}

	transferID, descriptor, err := eng.CreateSeed(ctx, file)
	if err != nil {
		c.release(e)
		metrics.StartFailuresTotal.WithLabelValues("engine").Inc()
		return "", fmt.Errorf("%w: create seed: %w", domain.ErrEngineFailure, err)
	}
	if err := c.bind(ctx, e, eng, transferID); err != nil {
		return "", err
	}
	return descriptor, nil
}

// StartDownload starts downloading descriptor into saveDir for request id.
func (c *Coordinator) StartDownload(ctx context.Context, descriptor, saveDir string, id domain.RequestID) error {
	if err := os.MkdirAll(saveDir, 0o755); err != nil {
		metrics.StartFailuresTotal.WithLabelValues("input").Inc()
		return fmt.Errorf("%w: %w: %v", domain.ErrEngineFailure, domain.ErrInvalidDirectory, err)
	}

	eng, err := c.ensureEngine()
	if err != nil {
		return err
	}
	if _, err := eng.ParseDescriptor(descriptor); err != nil {
		metrics.StartFailuresTotal.WithLabelValues("input").Inc()
		return fmt.Errorf("%w: %w: %v", domain.ErrEngineFailure, domain.ErrInvalidDescriptor, err)
	}

	e, err := c.reserve(eng, id, domain.RoleDownload, saveDir)
	if err != nil {
		return err
	}

	transferID, err := eng.AddDownload(ctx, descriptor, saveDir)
	if err != nil {
		c.release(e)
		metrics.StartFailuresTotal.WithLabelValues("engine").Inc()
		return fmt.Errorf("%w: add download: %w", domain.ErrEngineFailure, err)
	}
	return c.bind(ctx, e, eng, transferID)
}

// Stop ends the session of request id and reports whether one was tracked.
// It is safe to call concurrently with a terminal alert for the same
// session; whichever runs second is a no-op.
func (c *Coordinator) Stop(ctx context.Context, id domain.RequestID) bool {
	return c.cleanup(ctx, id, nil, "stopped")
}

// StopAll closes the engine and forgets every session. The next start builds
// a fresh engine.
func (c *Coordinator) StopAll() error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	eng, done := c.engine, c.loopDone
	c.engine, c.loopDone = nil, nil
	for _, e := range c.sessions {
		e.session.State = domain.StateRemoved
		metrics.SessionsEndedTotal.WithLabelValues(string(e.session.Role), "shutdown").Inc()
	}
	count := len(c.sessions)
	c.sessions = make(map[domain.RequestID]*entry)
	c.mu.Unlock()
	metrics.ActiveSessions.Set(0)

	if eng == nil {
		return nil
	}
	c.logger.Info("stopping transfer engine", slog.Int("sessions", count))
	err := eng.Close()
	if done != nil {
		<-done
	}
	return err
}

// HandleAlert applies one alert from the current engine.
func (c *Coordinator) HandleAlert(alert domain.Alert) {
	c.mu.RLock()
	eng := c.engine
	c.mu.RUnlock()
	c.handleAlert(eng, alert)
}

// Session returns a copy of the tracked session for id.
func (c *Coordinator) Session(id domain.RequestID) (domain.TransferSession, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.sessions[id]
	if !ok {
		return domain.TransferSession{}, false
	}
	return e.session, true
}

func (c *Coordinator) Sessions() []domain.TransferSession {
	c.mu.RLock()
	out := make([]domain.TransferSession, 0, len(c.sessions))
	for _, e := range c.sessions {
		out = append(out, e.session)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].RequestID < out[j].RequestID })
	return out
}

// Status reads the live gauge for id straight from the engine.
func (c *Coordinator) Status(id domain.RequestID) (domain.StatusEvent, error) {
	c.mu.RLock()
	e, ok := c.sessions[id]
	var session domain.TransferSession
	var eng ports.TransferEngine
	if ok {
		session, eng = e.session, e.engine
	}
	c.mu.RUnlock()

	if !ok || eng == nil || session.TransferID == "" {
		return domain.StatusEvent{}, domain.ErrNotFound
	}
	st, err := eng.Status(session.TransferID)
	if err != nil {
		return domain.StatusEvent{}, err
	}
	return c.statusEvent(session, st), nil
}

// ---------------------------------------------------------------------------
// Engine lifecycle
// ---------------------------------------------------------------------------

func (c *Coordinator) ensureEngine() (ports.TransferEngine, error) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.RLock()
	eng := c.engine
	c.mu.RUnlock()
	if eng != nil {
		return eng, nil
	}
	if c.factory == nil {
		return nil, fmt.Errorf("%w: no engine factory configured", domain.ErrEngineFailure)
	}

	eng, err := c.factory()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEngineFailure, err)
	}
	done := make(chan struct{})
	c.mu.Lock()
	c.engine, c.loopDone = eng, done
	c.mu.Unlock()

	go c.consume(eng, done)
	c.logger.Info("transfer engine started")
	return eng, nil
}

func (c *Coordinator) consume(eng ports.TransferEngine, done chan struct{}) {
	defer close(done)
	for alert := range eng.Alerts() {
		c.safeHandle(eng, alert)
	}
}

func (c *Coordinator) safeHandle(eng ports.TransferEngine, alert domain.Alert) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("alert handler panic recovered",
				slog.Any("error", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	c.handleAlert(eng, alert)
}

// ---------------------------------------------------------------------------
// Session table
// ---------------------------------------------------------------------------

// reserve claims id before any engine work so concurrent starts for the same
// request cannot both proceed. eng must still be the running engine: a
// StopAll since ensureEngine would leave the row on a closed engine.
func (c *Coordinator) reserve(eng ports.TransferEngine, id domain.RequestID, role domain.Role, savePath string) (*entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.engine == nil || c.engine != eng {
		metrics.StartFailuresTotal.WithLabelValues("engine").Inc()
		return nil, fmt.Errorf("%w: engine closed while starting %s", domain.ErrEngineFailure, id)
	}
	if existing, ok := c.sessions[id]; ok {
		metrics.StartFailuresTotal.WithLabelValues("duplicate").Inc()
		return nil, fmt.Errorf("%w: %s is %s", domain.ErrSessionExists, id, existing.session.State)
	}
	e := &entry{session: domain.TransferSession{
		RequestID: id,
		Role:      role,
		SavePath:  savePath,
		State:     domain.StateStarting,
	}}
	c.sessions[id] = e
	metrics.ActiveSessions.Set(float64(len(c.sessions)))
	return e, nil
}

func (c *Coordinator) release(e *entry) {
	c.mu.Lock()
	if c.sessions[e.session.RequestID] == e {
		delete(c.sessions, e.session.RequestID)
	}
	metrics.ActiveSessions.Set(float64(len(c.sessions)))
	c.mu.Unlock()
}

// bind attaches the native session to a reserved entry. If the reservation
// was cancelled meanwhile, the native session is removed again.
func (c *Coordinator) bind(ctx context.Context, e *entry, eng ports.TransferEngine, transferID domain.TransferID) error {
	id := e.session.RequestID
	if !eng.Lookup(transferID) {
		c.release(e)
		metrics.StartFailuresTotal.WithLabelValues("engine").Inc()
		return fmt.Errorf("%w: session %s not found after add", domain.ErrEngineFailure, transferID)
	}

	c.mu.Lock()
	if c.sessions[id] != e || e.session.State != domain.StateStarting {
		orphan := c.findLocked(transferID) == nil
		c.mu.Unlock()
		if orphan {
			if err := eng.Remove(ctx, transferID); err != nil && !errors.Is(err, domain.ErrNotFound) {
				c.logger.Warn("engine remove of cancelled start failed",
					slog.String("requestId", string(id)),
					slog.String("transferId", string(transferID)),
					slog.String("error", err.Error()),
				)
			}
		}
		return fmt.Errorf("%w: %s", domain.ErrSessionCancelled, id)
	}
	if other := c.findLocked(transferID); other != nil {
		delete(c.sessions, id)
		metrics.ActiveSessions.Set(float64(len(c.sessions)))
		c.mu.Unlock()
		metrics.StartFailuresTotal.WithLabelValues("transfer_bound").Inc()
		return fmt.Errorf("%w: transfer %s already bound to request %s", domain.ErrEngineFailure, transferID, other.session.RequestID)
	}
	e.session.TransferID = transferID
	e.engine = eng
	role := e.session.Role
	c.mu.Unlock()

	metrics.SessionsStartedTotal.WithLabelValues(string(role)).Inc()
	c.logger.Info("transfer session started",
		slog.String("requestId", string(id)),
		slog.String("transferId", string(transferID)),
		slog.String("role", string(role)),
	)
	return nil
}

// findLocked scans the table for the row bound to transferID. Caller must
// hold mu.
func (c *Coordinator) findLocked(transferID domain.TransferID) *entry {
	for _, e := range c.sessions {
		if e.session.TransferID == transferID {
			return e
		}
	}
	return nil
}

// cleanup removes the row for id and its native session. When expect is set
// only that row is removed. Returns false when there was nothing to do.
func (c *Coordinator) cleanup(ctx context.Context, id domain.RequestID, expect *entry, outcome string) bool {
	c.mu.Lock()
	e, ok := c.sessions[id]
	if !ok || (expect != nil && e != expect) || e.session.State == domain.StateRemoved {
		c.mu.Unlock()
		return false
	}
	e.session.State = domain.StateRemoved
	transferID, eng, role := e.session.TransferID, e.engine, e.session.Role
	c.mu.Unlock()

	if transferID != "" && eng != nil {
		if err := eng.Remove(ctx, transferID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			c.logger.Warn("engine remove failed",
				slog.String("requestId", string(id)),
				slog.String("transferId", string(transferID)),
				slog.String("error", err.Error()),
			)
		}
	}

	// The row stays (as Removed) until the engine call returns so a restart
	// of the same request cannot bind to a native session being dropped.
	c.mu.Lock()
	if c.sessions[id] == e {
		delete(c.sessions, id)
	}
	metrics.ActiveSessions.Set(float64(len(c.sessions)))
	c.mu.Unlock()

	metrics.SessionsEndedTotal.WithLabelValues(string(role), outcome).Inc()
	c.logger.Info("transfer session removed",
		slog.String("requestId", string(id)),
		slog.String("transferId", string(transferID)),
		slog.String("outcome", outcome),
	)
	return true
}

// ---------------------------------------------------------------------------
// Alert dispatch
// ---------------------------------------------------------------------------

func (c *Coordinator) handleAlert(eng ports.TransferEngine, alert domain.Alert) {
	c.dispatch.Lock()
	defer c.dispatch.Unlock()

	switch a := alert.(type) {
	case domain.StateUpdateAlert:
		c.onStateUpdate(eng, a)
	case domain.FinishedAlert:
		c.onTerminal(eng, a.TransferID, true, "")
	case domain.ErrorAlert:
		c.onTerminal(eng, a.TransferID, false, a.Message)
	default:
		metrics.IgnoredAlertsTotal.Inc()
		c.logger.Warn("unknown engine alert", slog.String("type", fmt.Sprintf("%T", alert)))
	}
}

func (c *Coordinator) onStateUpdate(eng ports.TransferEngine, a domain.StateUpdateAlert) {
	events := make([]domain.StatusEvent, 0, len(a.Statuses))
	var down, up int64
	var peers int

	c.mu.Lock()
	for _, st := range a.Statuses {
		e := c.findLocked(st.ID)
		if e == nil || e.engine != eng || !e.session.State.Live() {
			metrics.IgnoredAlertsTotal.Inc()
			continue
		}
		if e.session.State == domain.StateStarting {
			e.session.State = domain.StateActive
		}
		events = append(events, c.statusEvent(e.session, st))
		down += st.DownRateBps
		up += st.UpRateBps
		peers += st.Peers
	}
	c.mu.Unlock()

	metrics.DownloadSpeedBytes.Set(float64(down))
	metrics.UploadSpeedBytes.Set(float64(up))
	metrics.PeersConnected.Set(float64(peers))

	for _, ev := range events {
		c.sink.PublishStatus(ev)
	}
}

func (c *Coordinator) onTerminal(eng ports.TransferEngine, transferID domain.TransferID, success bool, message string) {
	c.mu.Lock()
	e := c.findLocked(transferID)
	if e == nil || e.engine != eng || !e.session.State.Live() {
		c.mu.Unlock()
		metrics.IgnoredAlertsTotal.Inc()
		c.logger.Debug("terminal alert for untracked transfer", slog.String("transferId", string(transferID)))
		return
	}
	to := domain.StateFinished
	if !success {
		to = domain.StateErrored
	}
	e.session.State = to
	session := e.session
	c.mu.Unlock()

	st, err := eng.Status(transferID)
	if err != nil {
		st = domain.TransferStatus{ID: transferID}
	}
	ev := c.statusEvent(session, st)
	ev.Terminal = true
	ev.Success = success
	ev.Message = message
	c.sink.PublishStatus(ev)

	outcome := "finished"
	if !success {
		outcome = "errored"
		c.logger.Warn("transfer failed",
			slog.String("requestId", string(session.RequestID)),
			slog.String("transferId", string(transferID)),
			slog.String("error", message),
		)
		c.sink.PublishError(domain.ErrorEvent{
			RequestID: session.RequestID,
			Message:   "transfer failed: " + message,
		})
	}
	c.cleanup(context.Background(), session.RequestID, e, outcome)
}

func (c *Coordinator) statusEvent(session domain.TransferSession, st domain.TransferStatus) domain.StatusEvent {
	return domain.StatusEvent{
		RequestID:   session.RequestID,
		Phase:       session.Role.Phase(),
		Peers:       st.Peers,
		DownRateBps: st.DownRateBps,
		UpRateBps:   st.UpRateBps,
		BytesDone:   st.BytesDone,
		BytesTotal:  st.BytesTotal,
		At:          c.now().UTC(),
	}
}

type discardSink struct{}

func (discardSink) PublishStatus(domain.StatusEvent) {}
func (discardSink) PublishError(domain.ErrorEvent)   {}
