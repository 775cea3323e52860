package usecase

import (
	"context"
	"fmt"

	"filedrop/internal/domain"
	"filedrop/internal/telemetry"
)

type DeclineRequest struct {
	Negotiation Negotiation
}

func (uc DeclineRequest) Execute(ctx context.Context, id domain.RequestID) (err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "usecase.DeclineRequest", withRequestID(id))
	defer func() { endSpan(span, err) }()

	req, err := uc.Negotiation.Get(ctx, id)
	if err != nil {
		return err
	}
	if req.Status != domain.RequestPending {
		return fmt.Errorf("%w: request is %s", domain.ErrInvalidRequest, req.Status)
	}
	return uc.Negotiation.Decline(ctx, req)
}
