package domain

import (
	"errors"
	"strings"
	"time"
)

type RequestID string

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
	RequestDeclined RequestStatus = "declined"
)

// DropRequest is the negotiated intent to move one file from a sender to the
// receiver owning ReceiverAlias.
type DropRequest struct {
	ID            RequestID     `json:"id"`
	SenderID      string        `json:"senderId"`
	SenderAlias   string        `json:"senderAlias"`
	ReceiverAlias string        `json:"receiverAlias"`
	Filename      string        `json:"filename"`
	Filesize      int64         `json:"filesize"`
	Status        RequestStatus `json:"status"`
	ReceiverID    string        `json:"receiverId,omitempty"`
	Descriptor    string        `json:"descriptor,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

func (r DropRequest) Validate() error {
	if strings.TrimSpace(r.SenderID) == "" {
		return errors.New("senderId is required")
	}
	if strings.TrimSpace(r.ReceiverAlias) == "" {
		return errors.New("receiverAlias is required")
	}
	if strings.TrimSpace(r.Filename) == "" {
		return errors.New("filename is required")
	}
	if r.Filesize < 0 {
		return errors.New("filesize must not be negative")
	}
	switch r.Status {
	case RequestPending, RequestAccepted, RequestDeclined:
	case "":
		return errors.New("status is required")
	default:
		return errors.New("invalid status: " + string(r.Status))
	}
	return nil
}

type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeRemoved ChangeKind = "removed"
)

// RequestChange is one incremental step of a pending-requests subscription.
// Removed changes carry only Request.ID when the store no longer has the
// document.
type RequestChange struct {
	Kind    ChangeKind  `json:"kind"`
	Request DropRequest `json:"request"`
}
