package usecase

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"filedrop/internal/domain"
)

// Negotiation is the slice of the request negotiator the use cases drive.
type Negotiation interface {
	CreateRequest(ctx context.Context, senderID, receiverAlias, filename string, filesize int64) (domain.DropRequest, error)
	AttachDescriptor(ctx context.Context, id domain.RequestID, descriptor string) error
	Get(ctx context.Context, id domain.RequestID) (domain.DropRequest, error)
	Accept(ctx context.Context, request domain.DropRequest, receiverID string) error
	Decline(ctx context.Context, request domain.DropRequest) error
}

// Transfers is the slice of the transfer coordinator the use cases drive.
type Transfers interface {
	StartSeeding(ctx context.Context, file string, id domain.RequestID) (string, error)
	StartDownload(ctx context.Context, descriptor, saveDir string, id domain.RequestID) error
	Stop(ctx context.Context, id domain.RequestID) bool
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func withRequestID(id domain.RequestID) trace.SpanStartOption {
	return trace.WithAttributes(attribute.String("request.id", string(id)))
}
