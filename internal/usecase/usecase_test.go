package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"filedrop/internal/domain"
)

type fakeNegotiation struct {
	requests    map[domain.RequestID]domain.DropRequest
	createErr   error
	attachErr   error
	acceptErr   error
	declineErr  error
	created     []domain.DropRequest
	accepted    []domain.RequestID
	declined    []domain.RequestID
	descriptors map[domain.RequestID]string
}

func newFakeNegotiation() *fakeNegotiation {
	return &fakeNegotiation{
		requests:    make(map[domain.RequestID]domain.DropRequest),
		descriptors: make(map[domain.RequestID]string),
	}
}

func (f *fakeNegotiation) CreateRequest(ctx context.Context, senderID, receiverAlias, filename string, filesize int64) (domain.DropRequest, error) {
	if f.createErr != nil {
		return domain.DropRequest{}, f.createErr
	}
	r := domain.DropRequest{
		ID:            "req-1",
		SenderID:      senderID,
		ReceiverAlias: receiverAlias,
		Filename:      filename,
		Filesize:      filesize,
		Status:        domain.RequestPending,
	}
	f.requests[r.ID] = r
	f.created = append(f.created, r)
	return r, nil
}

func (f *fakeNegotiation) AttachDescriptor(ctx context.Context, id domain.RequestID, descriptor string) error {
	if f.attachErr != nil {
		return f.attachErr
	}
	f.descriptors[id] = descriptor
	return nil
}

func (f *fakeNegotiation) Get(ctx context.Context, id domain.RequestID) (domain.DropRequest, error) {
	r, ok := f.requests[id]
	if !ok {
		return domain.DropRequest{}, domain.ErrNotFound
	}
	return r, nil
}

func (f *fakeNegotiation) Accept(ctx context.Context, r domain.DropRequest, receiverID string) error {
	f.accepted = append(f.accepted, r.ID)
	if f.acceptErr != nil {
		return f.acceptErr
	}
	r.Status = domain.RequestAccepted
	r.ReceiverID = receiverID
	f.requests[r.ID] = r
	return nil
}

func (f *fakeNegotiation) Decline(ctx context.Context, r domain.DropRequest) error {
	f.declined = append(f.declined, r.ID)
	return f.declineErr
}

type fakeTransfers struct {
	seedErr     error
	downloadErr error
	seeded      []string
	downloads   []string
	saveDirs    []string
	stopped     []domain.RequestID
	tracked     map[domain.RequestID]bool
}

func newFakeTransfers() *fakeTransfers {
	return &fakeTransfers{tracked: make(map[domain.RequestID]bool)}
}

func (f *fakeTransfers) StartSeeding(ctx context.Context, file string, id domain.RequestID) (string, error) {
	if f.seedErr != nil {
		return "", f.seedErr
	}
	f.seeded = append(f.seeded, file)
	f.tracked[id] = true
	return "magnet:?xt=urn:btih:abc", nil
}

func (f *fakeTransfers) StartDownload(ctx context.Context, descriptor, saveDir string, id domain.RequestID) error {
	if f.downloadErr != nil {
		return f.downloadErr
	}
	f.downloads = append(f.downloads, descriptor)
	f.saveDirs = append(f.saveDirs, saveDir)
	f.tracked[id] = true
	return nil
}

func (f *fakeTransfers) Stop(ctx context.Context, id domain.RequestID) bool {
	f.stopped = append(f.stopped, id)
	ok := f.tracked[id]
	delete(f.tracked, id)
	return ok
}

func writeTempFile(t *testing.T, name string, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

// ---------------------------------------------------------------------------
// SendFile
// ---------------------------------------------------------------------------

func TestSendFile(t *testing.T) {
	neg, tr := newFakeNegotiation(), newFakeTransfers()
	uc := SendFile{Negotiation: neg, Transfers: tr}
	path := writeTempFile(t, "report.pdf", 2048)

	req, err := uc.Execute(context.Background(), SendFileInput{Path: path, SenderID: "acct-1", ReceiverAlias: "Red-Lion-42"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if req.Filename != "report.pdf" || req.Filesize != 2048 {
		t.Fatalf("request = %+v", req)
	}
	if req.Descriptor != "magnet:?xt=urn:btih:abc" || neg.descriptors["req-1"] != req.Descriptor {
		t.Fatalf("descriptor not attached: %+v", req)
	}
	if len(tr.seeded) != 1 || tr.seeded[0] != path {
		t.Fatalf("seeded = %v", tr.seeded)
	}
}

func TestSendFileMissingFile(t *testing.T) {
	neg, tr := newFakeNegotiation(), newFakeTransfers()
	uc := SendFile{Negotiation: neg, Transfers: tr}

	for _, path := range []string{"", filepath.Join(t.TempDir(), "nope"), t.TempDir()} {
		_, err := uc.Execute(context.Background(), SendFileInput{Path: path, SenderID: "acct-1", ReceiverAlias: "x"})
		if !errors.Is(err, domain.ErrFileNotFound) {
			t.Fatalf("path %q: err = %v, want ErrFileNotFound", path, err)
		}
	}
	if len(neg.created) != 0 {
		t.Fatalf("request created for missing file")
	}
}

func TestSendFileSeedFailure(t *testing.T) {
	neg, tr := newFakeNegotiation(), newFakeTransfers()
	tr.seedErr = domain.ErrEngineFailure
	uc := SendFile{Negotiation: neg, Transfers: tr}

	req, err := uc.Execute(context.Background(), SendFileInput{Path: writeTempFile(t, "a.bin", 1), SenderID: "acct-1", ReceiverAlias: "x"})
	if !errors.Is(err, ErrEngine) || !errors.Is(err, domain.ErrEngineFailure) {
		t.Fatalf("err = %v", err)
	}
	if req.ID != "req-1" {
		t.Fatalf("created request not returned: %+v", req)
	}
}

func TestSendFileAttachFailureStopsSeeding(t *testing.T) {
	neg, tr := newFakeNegotiation(), newFakeTransfers()
	neg.attachErr = errors.New("write conflict")
	uc := SendFile{Negotiation: neg, Transfers: tr}

	_, err := uc.Execute(context.Background(), SendFileInput{Path: writeTempFile(t, "a.bin", 1), SenderID: "acct-1", ReceiverAlias: "x"})
	if !errors.Is(err, ErrRepository) {
		t.Fatalf("err = %v, want ErrRepository", err)
	}
	if len(tr.stopped) != 1 || tr.stopped[0] != "req-1" {
		t.Fatalf("stopped = %v", tr.stopped)
	}
}

// ---------------------------------------------------------------------------
// AcceptRequest
// ---------------------------------------------------------------------------

func pendingWithDescriptor() domain.DropRequest {
	return domain.DropRequest{
		ID:            "req-1",
		SenderID:      "acct-1",
		ReceiverAlias: "Red-Lion-42",
		Filename:      "a.bin",
		Status:        domain.RequestPending,
		Descriptor:    "magnet:?xt=urn:btih:abc",
	}
}

func TestAcceptRequest(t *testing.T) {
	neg, tr := newFakeNegotiation(), newFakeTransfers()
	neg.requests["req-1"] = pendingWithDescriptor()
	uc := AcceptRequest{Negotiation: neg, Transfers: tr, DownloadDir: "/srv/downloads"}

	req, err := uc.Execute(context.Background(), AcceptRequestInput{RequestID: "req-1", ReceiverID: "acct-2"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if req.Status != domain.RequestAccepted || req.ReceiverID != "acct-2" {
		t.Fatalf("request = %+v", req)
	}
	if len(tr.saveDirs) != 1 || tr.saveDirs[0] != "/srv/downloads" {
		t.Fatalf("saveDirs = %v", tr.saveDirs)
	}
}

func TestAcceptRequestCustomSaveDir(t *testing.T) {
	neg, tr := newFakeNegotiation(), newFakeTransfers()
	neg.requests["req-1"] = pendingWithDescriptor()
	uc := AcceptRequest{Negotiation: neg, Transfers: tr, DownloadDir: "/srv/downloads"}

	if _, err := uc.Execute(context.Background(), AcceptRequestInput{RequestID: "req-1", ReceiverID: "acct-2", SaveDir: "/tmp/mine"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if tr.saveDirs[0] != "/tmp/mine" {
		t.Fatalf("saveDirs = %v", tr.saveDirs)
	}
}

func TestAcceptRequestStoreFailureStillDownloads(t *testing.T) {
	neg, tr := newFakeNegotiation(), newFakeTransfers()
	neg.requests["req-1"] = pendingWithDescriptor()
	neg.acceptErr = domain.ErrStoreWrite
	uc := AcceptRequest{Negotiation: neg, Transfers: tr, DownloadDir: t.TempDir()}

	_, err := uc.Execute(context.Background(), AcceptRequestInput{RequestID: "req-1", ReceiverID: "acct-2"})
	if !errors.Is(err, domain.ErrStoreWrite) {
		t.Fatalf("err = %v, want ErrStoreWrite", err)
	}
	if errors.Is(err, ErrEngine) {
		t.Fatalf("engine error reported although download started: %v", err)
	}
	if len(tr.downloads) != 1 {
		t.Fatalf("download not started")
	}
}

func TestAcceptRequestFailures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*fakeNegotiation, *fakeTransfers)
		input   AcceptRequestInput
		wantIs  []error
		started bool
	}{
		{
			name:   "unknown request",
			setup:  func(*fakeNegotiation, *fakeTransfers) {},
			input:  AcceptRequestInput{RequestID: "missing", ReceiverID: "acct-2"},
			wantIs: []error{domain.ErrNotFound},
		},
		{
			name:   "missing receiver",
			setup:  func(n *fakeNegotiation, _ *fakeTransfers) { n.requests["req-1"] = pendingWithDescriptor() },
			input:  AcceptRequestInput{RequestID: "req-1"},
			wantIs: []error{domain.ErrInvalidRequest},
		},
		{
			name: "already declined",
			setup: func(n *fakeNegotiation, _ *fakeTransfers) {
				r := pendingWithDescriptor()
				r.Status = domain.RequestDeclined
				n.requests["req-1"] = r
			},
			input:  AcceptRequestInput{RequestID: "req-1", ReceiverID: "acct-2"},
			wantIs: []error{domain.ErrInvalidRequest},
		},
		{
			name: "no descriptor",
			setup: func(n *fakeNegotiation, _ *fakeTransfers) {
				r := pendingWithDescriptor()
				r.Descriptor = ""
				n.requests["req-1"] = r
			},
			input:  AcceptRequestInput{RequestID: "req-1", ReceiverID: "acct-2"},
			wantIs: []error{domain.ErrNoDescriptor},
		},
		{
			name: "engine and store both fail",
			setup: func(n *fakeNegotiation, tr *fakeTransfers) {
				n.requests["req-1"] = pendingWithDescriptor()
				n.acceptErr = domain.ErrStoreWrite
				tr.downloadErr = domain.ErrEngineFailure
			},
			input:  AcceptRequestInput{RequestID: "req-1", ReceiverID: "acct-2"},
			wantIs: []error{ErrEngine, domain.ErrEngineFailure, domain.ErrStoreWrite},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			neg, tr := newFakeNegotiation(), newFakeTransfers()
			tc.setup(neg, tr)
			uc := AcceptRequest{Negotiation: neg, Transfers: tr, DownloadDir: "/srv/downloads"}

			_, err := uc.Execute(context.Background(), tc.input)
			if err == nil {
				t.Fatalf("expected error")
			}
			for _, target := range tc.wantIs {
				if !errors.Is(err, target) {
					t.Fatalf("err = %v, want Is %v", err, target)
				}
			}
			if len(tr.downloads) != 0 {
				t.Fatalf("download started")
			}
		})
	}
}

func TestAcceptRequestBeforeDescriptorStaysPending(t *testing.T) {
	neg, tr := newFakeNegotiation(), newFakeTransfers()
	r := pendingWithDescriptor()
	r.Descriptor = ""
	neg.requests["req-1"] = r
	uc := AcceptRequest{Negotiation: neg, Transfers: tr, DownloadDir: t.TempDir()}
	input := AcceptRequestInput{RequestID: "req-1", ReceiverID: "acct-2"}

	if _, err := uc.Execute(context.Background(), input); !errors.Is(err, domain.ErrNoDescriptor) {
		t.Fatalf("err = %v, want ErrNoDescriptor", err)
	}
	if got := neg.requests["req-1"].Status; got != domain.RequestPending {
		t.Fatalf("status after early accept = %s, want pending", got)
	}

	r.Descriptor = "magnet:?xt=urn:btih:abc"
	neg.requests["req-1"] = r

	req, err := uc.Execute(context.Background(), input)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if req.Status != domain.RequestAccepted || neg.requests["req-1"].Status != domain.RequestAccepted {
		t.Fatalf("retry left request %s (stored %s)", req.Status, neg.requests["req-1"].Status)
	}
	if len(tr.downloads) != 1 {
		t.Fatalf("downloads = %d, want 1", len(tr.downloads))
	}
}

func TestAcceptRequestInsufficientSpace(t *testing.T) {
	neg, tr := newFakeNegotiation(), newFakeTransfers()
	r := pendingWithDescriptor()
	r.Filesize = 4 << 20
	neg.requests["req-1"] = r

	base := t.TempDir()
	var measured string
	uc := AcceptRequest{
		Negotiation: neg,
		Transfers:   tr,
		DownloadDir: filepath.Join(base, "not", "yet"),
		FreeSpace: func(dir string) (int64, error) {
			measured = dir
			return 1 << 20, nil
		},
	}

	_, err := uc.Execute(context.Background(), AcceptRequestInput{RequestID: "req-1", ReceiverID: "acct-2"})
	if !errors.Is(err, ErrInsufficientSpace) {
		t.Fatalf("err = %v, want ErrInsufficientSpace", err)
	}
	if measured != base {
		t.Fatalf("measured %q, want nearest existing parent %q", measured, base)
	}
	if len(neg.accepted) != 0 || len(tr.downloads) != 0 {
		t.Fatalf("request accepted despite missing space")
	}
}

func TestAcceptRequestSpaceCheckSkipped(t *testing.T) {
	tests := []struct {
		name string
		free func(string) (int64, error)
	}{
		{"enough space", func(string) (int64, error) { return 8 << 20, nil }},
		{"probe unsupported", func(string) (int64, error) { return 0, errors.New("unsupported") }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			neg, tr := newFakeNegotiation(), newFakeTransfers()
			r := pendingWithDescriptor()
			r.Filesize = 4 << 20
			neg.requests["req-1"] = r
			uc := AcceptRequest{Negotiation: neg, Transfers: tr, DownloadDir: t.TempDir(), FreeSpace: tc.free}

			if _, err := uc.Execute(context.Background(), AcceptRequestInput{RequestID: "req-1", ReceiverID: "acct-2"}); err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if len(tr.downloads) != 1 {
				t.Fatalf("download not started")
			}
		})
	}
}

func TestDiskFreeBytesTempDir(t *testing.T) {
	free, err := diskFreeBytes(os.TempDir())
	if err != nil {
		t.Skipf("disk space probe unavailable: %v", err)
	}
	if free < 0 {
		t.Fatalf("free = %d", free)
	}
}

// ---------------------------------------------------------------------------
// DeclineRequest / StopTransfer
// ---------------------------------------------------------------------------

func TestDeclineRequest(t *testing.T) {
	neg := newFakeNegotiation()
	neg.requests["req-1"] = pendingWithDescriptor()
	uc := DeclineRequest{Negotiation: neg}

	if err := uc.Execute(context.Background(), "req-1"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(neg.declined) != 1 {
		t.Fatalf("declined = %v", neg.declined)
	}
	if err := uc.Execute(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStopTransfer(t *testing.T) {
	tr := newFakeTransfers()
	tr.tracked["req-1"] = true
	uc := StopTransfer{Transfers: tr}

	if err := uc.Execute(context.Background(), "req-1"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if err := uc.Execute(context.Background(), "req-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second stop err = %v, want ErrNotFound", err)
	}
}
