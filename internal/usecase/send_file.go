package usecase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"filedrop/internal/domain"
	"filedrop/internal/telemetry"
)

type SendFile struct {
	Negotiation Negotiation
	Transfers   Transfers
}

type SendFileInput struct {
	Path          string
	SenderID      string
	ReceiverAlias string
}

// Execute creates a drop request for the file, starts seeding it and stores
// the descriptor on the request.
func (uc SendFile) Execute(ctx context.Context, input SendFileInput) (req domain.DropRequest, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "usecase.SendFile")
	defer func() { endSpan(span, err) }()

	path := strings.TrimSpace(input.Path)
	info, statErr := os.Stat(path)
	if path == "" || statErr != nil || info.IsDir() {
		return domain.DropRequest{}, fmt.Errorf("%w: %s", domain.ErrFileNotFound, input.Path)
	}

	req, err = uc.Negotiation.CreateRequest(ctx, input.SenderID, input.ReceiverAlias, filepath.Base(path), info.Size())
	if err != nil {
		return domain.DropRequest{}, err
	}
	span.SetAttributes(attribute.String("request.id", string(req.ID)))

	descriptor, err := uc.Transfers.StartSeeding(ctx, path, req.ID)
	if err != nil {
		return req, wrapEngine(err)
	}

	if err := uc.Negotiation.AttachDescriptor(ctx, req.ID, descriptor); err != nil {
		// The receiver can never fetch without the descriptor.
		uc.Transfers.Stop(ctx, req.ID)
		return req, wrapRepo(err)
	}
	req.Descriptor = descriptor
	return req, nil
}
