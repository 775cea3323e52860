package anacrolix

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/storage"

	"filedrop/internal/domain"
)

var ErrSessionNotFound = domain.ErrNotFound

const (
	// addTimeout caps the time we wait for the anacrolix client to accept a
	// torrent. Adds can block on the client mutex while it resolves metadata
	// for another torrent.
	addTimeout = 10 * time.Second

	defaultPieceLength     = 256 << 10
	defaultPollInterval    = time.Second
	defaultMetadataTimeout = 10 * time.Minute
	alertBuffer            = 64
)

type Config struct {
	DataDir         string
	ListenPort      int
	PollInterval    time.Duration
	MetadataTimeout time.Duration
	Logger          *slog.Logger
}

// native is one torrent held by the engine.
type native struct {
	t        *torrent.Torrent
	seeding  bool
	storage  io.Closer
	addedAt  time.Time
	finished bool
	failed   bool
}

type Engine struct {
	client          *torrent.Client
	logger          *slog.Logger
	pollInterval    time.Duration
	metadataTimeout time.Duration

	mu       sync.RWMutex
	sessions map[domain.TransferID]*native

	speedMu sync.Mutex
	speeds  map[domain.TransferID]speedSample

	alerts    chan domain.Alert
	cancel    context.CancelFunc
	loopDone  chan struct{}
	closeOnce sync.Once
}

func New(cfg Config) (*Engine, error) {
	clientConfig := torrent.NewDefaultClientConfig()
	if cfg.DataDir != "" {
		clientConfig.DataDir = cfg.DataDir
	}
	if cfg.ListenPort > 0 {
		clientConfig.ListenPort = cfg.ListenPort
	}
	clientConfig.Seed = true

	client, err := torrent.NewClient(clientConfig)
	if err != nil {
		return nil, err
	}
	e := newEngine(client, cfg)
	e.start()
	return e, nil
}

func newEngine(client *torrent.Client, cfg Config) *Engine {
	e := &Engine{
		client:          client,
		logger:          cfg.Logger,
		pollInterval:    cfg.PollInterval,
		metadataTimeout: cfg.MetadataTimeout,
		sessions:        make(map[domain.TransferID]*native),
		speeds:          make(map[domain.TransferID]speedSample),
		alerts:          make(chan domain.Alert, alertBuffer),
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.pollInterval <= 0 {
		e.pollInterval = defaultPollInterval
	}
	if e.metadataTimeout <= 0 {
		e.metadataTimeout = defaultMetadataTimeout
	}
	return e
}

func (e *Engine) start() {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.loopDone = make(chan struct{})
	go e.poll(ctx)
}

// ---------------------------------------------------------------------------
// Session lifecycle
// ---------------------------------------------------------------------------

func (e *Engine) CreateSeed(ctx context.Context, path string) (domain.TransferID, string, error) {
	if e.client == nil {
		return "", "", errors.New("torrent client not configured")
	}

	info := metainfo.Info{PieceLength: defaultPieceLength}
	if err := info.BuildFromFilePath(path); err != nil {
		return "", "", fmt.Errorf("build metainfo: %w", err)
	}
	infoBytes, err := bencode.Marshal(info)
	if err != nil {
		return "", "", fmt.Errorf("encode metainfo: %w", err)
	}
	mi := metainfo.MetaInfo{InfoBytes: infoBytes, CreationDate: time.Now().Unix()}
	spec, err := torrent.TorrentSpecFromMetaInfoErr(&mi)
	if err != nil {
		return "", "", fmt.Errorf("torrent spec: %w", err)
	}

	store := storage.NewFile(filepath.Dir(path))
	spec.Storage = store
	t, err := e.add(ctx, spec)
	if err != nil {
		_ = store.Close()
		return "", "", err
	}
	// Pieces already on disk are hashed before they can be served.
	t.VerifyData()

	ih := mi.HashInfoBytes()
	descriptor := mi.Magnet(&ih, &info).String()
	id, err := e.register(t, true, store)
	if err != nil {
		_ = store.Close()
		return "", "", err
	}
	e.logger.Info("seed created",
		slog.String("transferId", string(id)),
		slog.String("path", path),
		slog.Int64("length", info.TotalLength()),
	)
	return id, descriptor, nil
}

func (e *Engine) ParseDescriptor(descriptor string) (domain.TransferID, error) {
	m, err := metainfo.ParseMagnetUri(descriptor)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidDescriptor, err)
	}
	return domain.TransferID(m.InfoHash.HexString()), nil
}

func (e *Engine) AddDownload(ctx context.Context, descriptor, saveDir string) (domain.TransferID, error) {
	if e.client == nil {
		return "", errors.New("torrent client not configured")
	}
	spec, err := torrent.TorrentSpecFromMagnetUri(descriptor)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidDescriptor, err)
	}
	store := storage.NewFile(saveDir)
	spec.Storage = store
	t, err := e.add(ctx, spec)
	if err != nil {
		_ = store.Close()
		return "", err
	}
	id, err := e.register(t, false, store)
	if err != nil {
		_ = store.Close()
		return "", err
	}
	go e.downloadWhenReady(t, id)
	return id, nil
}

// add runs AddTorrentSpec with a timeout so a busy client never blocks the
// caller indefinitely.
func (e *Engine) add(ctx context.Context, spec *torrent.TorrentSpec) (*torrent.Torrent, error) {
	ch := make(chan addResult, 1)
	go func() {
		t, isNew, err := e.client.AddTorrentSpec(spec)
		ch <- addResult{t, isNew, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		if !res.new {
			return nil, fmt.Errorf("%w: torrent %s already added", domain.ErrSessionExists, res.t.InfoHash().HexString())
		}
		return res.t, nil
	case <-time.After(addTimeout):
		// The goroutine may still complete the add after we return.
		go dropOrphan(ch)
		return nil, errors.New("torrent client busy, try again later")
	case <-ctx.Done():
		go dropOrphan(ch)
		return nil, ctx.Err()
	}
}

type addResult struct {
	t   *torrent.Torrent
	new bool
	err error
}

func dropOrphan(ch <-chan addResult) {
	if res := <-ch; res.t != nil {
		res.t.Drop()
	}
}

func (e *Engine) register(t *torrent.Torrent, seeding bool, store io.Closer) (domain.TransferID, error) {
	id := domain.TransferID(t.InfoHash().HexString())
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.sessions[id]; exists {
		return "", fmt.Errorf("transfer %s already tracked", id)
	}
	e.sessions[id] = &native{t: t, seeding: seeding, storage: store, addedAt: time.Now().UTC()}
	return id, nil
}

func (e *Engine) downloadWhenReady(t *torrent.Torrent, id domain.TransferID) {
	select {
	case <-t.GotInfo():
	case <-t.Closed():
		return
	}
	if !e.Lookup(id) {
		return
	}
	t.AllowDataDownload()
	t.DownloadAll()
}

func (e *Engine) Lookup(id domain.TransferID) bool {
	return e.getTorrent(id) != nil
}

func (e *Engine) Status(id domain.TransferID) (domain.TransferStatus, error) {
	e.mu.RLock()
	n, ok := e.sessions[id]
	e.mu.RUnlock()
	if !ok {
		return domain.TransferStatus{}, ErrSessionNotFound
	}
	return e.readStatus(id, n, time.Now().UTC()), nil
}

func (e *Engine) Remove(ctx context.Context, id domain.TransferID) error {
	e.mu.Lock()
	n, ok := e.sessions[id]
	delete(e.sessions, id)
	e.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	e.forgetSpeed(id)
	e.release(n)
	freeOSMemory()
	return nil
}

func (e *Engine) Alerts() <-chan domain.Alert {
	return e.alerts
}

// Close stops the poll loop, closes the alert channel and shuts the client
// down. It is safe to call more than once.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		if e.cancel != nil {
			e.cancel()
			<-e.loopDone
		}
		close(e.alerts)

		e.mu.Lock()
		sessions := e.sessions
		e.sessions = make(map[domain.TransferID]*native)
		e.mu.Unlock()
		for _, n := range sessions {
			if n.storage != nil {
				_ = n.storage.Close()
			}
		}

		if e.client == nil {
			return
		}
		if errList := e.client.Close(); len(errList) > 0 {
			err = errList[0]
		}
	})
	return err
}

func (e *Engine) release(n *native) {
	if n.t != nil {
		n.t.Drop()
	}
	if n.storage != nil {
		if err := n.storage.Close(); err != nil {
			e.logger.Warn("close torrent storage", slog.String("error", err.Error()))
		}
	}
}

func (e *Engine) getTorrent(id domain.TransferID) *torrent.Torrent {
	e.mu.RLock()
	n := e.sessions[id]
	e.mu.RUnlock()
	if n == nil || n.t == nil {
		return nil
	}
	select {
	case <-n.t.Closed():
		return nil
	default:
		return n.t
	}
}

// ---------------------------------------------------------------------------
// Alert synthesis
// ---------------------------------------------------------------------------

func (e *Engine) poll(ctx context.Context) {
	defer close(e.loopDone)
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, alert := range e.collect(time.Now().UTC()) {
				select {
				case e.alerts <- alert:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// collect reads every session once and returns the alerts for this tick:
// one state update followed by the terminal alerts that became due.
func (e *Engine) collect(now time.Time) []domain.Alert {
	e.mu.RLock()
	ids := make([]domain.TransferID, 0, len(e.sessions))
	for id := range e.sessions {
		ids = append(ids, id)
	}
	e.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	statuses := make([]domain.TransferStatus, 0, len(ids))
	var terminal []domain.Alert
	for _, id := range ids {
		e.mu.RLock()
		n, ok := e.sessions[id]
		e.mu.RUnlock()
		if !ok {
			continue
		}
		if alert := e.checkTerminal(id, n, now); alert != nil {
			terminal = append(terminal, alert)
			continue
		}
		statuses = append(statuses, e.readStatus(id, n, now))
	}

	alerts := make([]domain.Alert, 0, len(terminal)+1)
	if len(statuses) > 0 {
		alerts = append(alerts, domain.StateUpdateAlert{Statuses: statuses})
	}
	return append(alerts, terminal...)
}

// checkTerminal returns the one-shot finished or error alert for n, if due.
func (e *Engine) checkTerminal(id domain.TransferID, n *native, now time.Time) (alert domain.Alert) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("terminal check panic recovered",
				slog.Any("error", r),
				slog.String("stack", string(debug.Stack())),
			)
			alert = nil
		}
	}()

	e.mu.Lock()
	defer e.mu.Unlock()
	if n.finished || n.failed {
		return nil
	}

	select {
	case <-n.t.Closed():
		n.failed = true
		return domain.ErrorAlert{TransferID: id, Message: "torrent closed unexpectedly"}
	default:
	}

	ready := torrentInfoReady(n.t)
	if metadataExpired(ready, n.addedAt, now, e.metadataTimeout) {
		n.failed = true
		return domain.ErrorAlert{TransferID: id, Message: fmt.Sprintf("metadata not received within %s", e.metadataTimeout)}
	}
	if !ready {
		return nil
	}

	stats := n.t.Stats()
	if transferComplete(n.seeding, n.t.Length(), n.t.BytesCompleted(), stats.BytesWrittenData.Int64()) {
		n.finished = true
		return domain.FinishedAlert{TransferID: id}
	}
	return nil
}

func (e *Engine) readStatus(id domain.TransferID, n *native, now time.Time) domain.TransferStatus {
	stats := n.t.Stats()
	down, up := e.sampleSpeed(id, stats, now)
	st := domain.TransferStatus{
		ID:          id,
		Seeding:     n.seeding,
		Peers:       stats.ActivePeers,
		DownRateBps: down,
		UpRateBps:   up,
	}
	if !torrentInfoReady(n.t) {
		return st
	}
	st.BytesTotal = n.t.Length()
	st.BytesDone = bytesDone(n.seeding, st.BytesTotal, n.t.BytesCompleted(), stats.BytesWrittenData.Int64())
	return st
}

// transferComplete: a download is done when every byte is verified; a seed
// when at least one full copy went out.
func transferComplete(seeding bool, length, completed, written int64) bool {
	if length <= 0 {
		return false
	}
	if seeding {
		return written >= length
	}
	return completed >= length
}

func bytesDone(seeding bool, length, completed, written int64) int64 {
	if !seeding {
		return completed
	}
	if written > length {
		return length
	}
	return written
}

func metadataExpired(ready bool, addedAt, now time.Time, timeout time.Duration) bool {
	return !ready && timeout > 0 && now.Sub(addedAt) > timeout
}

func torrentInfoReady(t *torrent.Torrent) bool {
	if t == nil {
		return false
	}
	select {
	case <-t.GotInfo():
		return true
	default:
		return false
	}
}

// freeOSMemory returns freed torrent buffers to the OS after a session drop.
func freeOSMemory() {
	runtime.GC()
	debug.FreeOSMemory()
}

type speedSample struct {
	at           time.Time
	bytesRead    int64
	bytesWritten int64
}

func (e *Engine) sampleSpeed(id domain.TransferID, stats torrent.TorrentStats, now time.Time) (int64, int64) {
	currentRead := stats.BytesReadUsefulData.Int64()
	currentWritten := stats.BytesWrittenData.Int64()

	e.speedMu.Lock()
	defer e.speedMu.Unlock()

	prev, ok := e.speeds[id]
	e.speeds[id] = speedSample{
		at:           now,
		bytesRead:    currentRead,
		bytesWritten: currentWritten,
	}

	if !ok || prev.at.IsZero() {
		return 0, 0
	}

	dt := now.Sub(prev.at).Seconds()
	if dt <= 0 {
		return 0, 0
	}

	deltaRead := currentRead - prev.bytesRead
	deltaWritten := currentWritten - prev.bytesWritten
	if deltaRead < 0 {
		deltaRead = 0
	}
	if deltaWritten < 0 {
		deltaWritten = 0
	}

	return int64(float64(deltaRead) / dt), int64(float64(deltaWritten) / dt)
}

func (e *Engine) forgetSpeed(id domain.TransferID) {
	e.speedMu.Lock()
	delete(e.speeds, id)
	e.speedMu.Unlock()
}
