package usecase

import (
	"context"

	"filedrop/internal/domain"
)

type StopTransfer struct {
	Transfers Transfers
}

func (uc StopTransfer) Execute(ctx context.Context, id domain.RequestID) error {
	if !uc.Transfers.Stop(ctx, id) {
		return domain.ErrNotFound
	}
	return nil
}
