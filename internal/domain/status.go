package domain

import "time"

type Phase string

const (
	PhaseSending   Phase = "Sending"
	PhaseReceiving Phase = "Receiving"
)

// StatusEvent is a live progress gauge for one drop request. It is never
// persisted as history.
type StatusEvent struct {
	RequestID   RequestID `json:"requestId"`
	Phase       Phase     `json:"phase"`
	Peers       int       `json:"peers"`
	DownRateBps int64     `json:"downRateBps"`
	UpRateBps   int64     `json:"upRateBps"`
	BytesDone   int64     `json:"bytesDone"`
	BytesTotal  int64     `json:"bytesTotal"`
	Terminal    bool      `json:"terminal"`
	Success     bool      `json:"success,omitempty"`
	Message     string    `json:"message,omitempty"`
	At          time.Time `json:"at"`
}

// ErrorEvent is broadcast to the UI when something fails outside a request
// response. RequestID is empty for failures not tied to one request.
type ErrorEvent struct {
	RequestID RequestID `json:"requestId,omitempty"`
	Message   string    `json:"message"`
}
