package domain

import "errors"

var ErrNotFound = errors.New("not found")

var (
	ErrInvalidRequest    = errors.New("invalid drop request")
	ErrFileNotFound      = errors.New("file not found")
	ErrInvalidDirectory  = errors.New("save directory cannot be created")
	ErrInvalidDescriptor = errors.New("invalid transfer descriptor")
	ErrNoDescriptor      = errors.New("drop request has no transfer descriptor")
	ErrEngineFailure     = errors.New("transfer engine failure")
	ErrSessionExists     = errors.New("transfer session already exists for request")
	ErrSessionCancelled  = errors.New("transfer session cancelled")
	ErrStoreWrite        = errors.New("negotiation store write failed")
)
