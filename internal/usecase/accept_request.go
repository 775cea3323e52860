package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"filedrop/internal/domain"
	"filedrop/internal/telemetry"
)

type AcceptRequest struct {
	Negotiation Negotiation
	Transfers   Transfers
	// DownloadDir is used when the input names no save directory.
	DownloadDir string
	// FreeSpace reports free bytes under a directory. Nil uses the
	// filesystem; an error from it skips the check.
	FreeSpace func(dir string) (int64, error)
}

type AcceptRequestInput struct {
	RequestID  domain.RequestID
	ReceiverID string
	SaveDir    string
}

// Execute accepts the request and starts downloading its file. A failed
// store write does not stop the download: when the download started the
// store error alone is returned, otherwise it is joined with the start error.
func (uc AcceptRequest) Execute(ctx context.Context, input AcceptRequestInput) (req domain.DropRequest, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "usecase.AcceptRequest",
		withRequestID(input.RequestID))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(input.ReceiverID) == "" {
		return domain.DropRequest{}, fmt.Errorf("%w: receiverId is required", domain.ErrInvalidRequest)
	}

	req, err = uc.Negotiation.Get(ctx, input.RequestID)
	if err != nil {
		return domain.DropRequest{}, err
	}
	if req.Status != domain.RequestPending {
		return req, fmt.Errorf("%w: request is %s", domain.ErrInvalidRequest, req.Status)
	}

	// The sender attaches the descriptor after the request is visible, so
	// an early accept must leave the request pending for a retry.
	if req.Descriptor == "" {
		return req, fmt.Errorf("%w: %s", domain.ErrNoDescriptor, req.ID)
	}

	saveDir := strings.TrimSpace(input.SaveDir)
	if saveDir == "" {
		saveDir = uc.DownloadDir
	}
	if err := uc.checkSpace(saveDir, req.Filesize); err != nil {
		return req, err
	}

	storeErr := uc.Negotiation.Accept(ctx, req, input.ReceiverID)

	if err := uc.Transfers.StartDownload(ctx, req.Descriptor, saveDir, req.ID); err != nil {
		return req, errors.Join(wrapEngine(err), storeErr)
	}

	req.Status = domain.RequestAccepted
	req.ReceiverID = input.ReceiverID
	return req, storeErr
}

// checkSpace refuses a download that cannot fit. The save directory may not
// exist yet, so the nearest existing parent is measured.
func (uc AcceptRequest) checkSpace(saveDir string, size int64) error {
	if size <= 0 || saveDir == "" {
		return nil
	}
	free := uc.FreeSpace
	if free == nil {
		free = diskFreeBytes
	}
	available, err := free(existingParent(saveDir))
	if err != nil {
		return nil
	}
	if available < size {
		return fmt.Errorf("%w: %s free in %s, need %d bytes", ErrInsufficientSpace,
			humanize.Bytes(uint64(available)), saveDir, size)
	}
	return nil
}

func existingParent(dir string) string {
	dir = filepath.Clean(dir)
	for {
		if _, err := os.Stat(dir); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}
