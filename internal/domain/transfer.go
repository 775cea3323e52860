package domain

// TransferID is the engine-assigned identifier of a native session (the
// infohash in hex).
type TransferID string

type Role string

const (
	RoleSeed     Role = "seed"
	RoleDownload Role = "download"
)

// Phase is the label shown to users for a role.
func (r Role) Phase() Phase {
	if r == RoleSeed {
		return PhaseSending
	}
	return PhaseReceiving
}

type SessionState string

const (
	StateStarting SessionState = "starting"
	StateActive   SessionState = "active"
	StateFinished SessionState = "finished"
	StateErrored  SessionState = "errored"
	StateRemoved  SessionState = "removed"
)

var sessionTransitions = map[SessionState][]SessionState{
	StateStarting: {StateActive, StateFinished, StateErrored, StateRemoved},
	StateActive:   {StateFinished, StateErrored, StateRemoved},
	StateFinished: {StateRemoved},
	StateErrored:  {StateRemoved},
}

// CanTransition reports whether a session may move from one state to another.
// Removed is terminal.
func CanTransition(from, to SessionState) bool {
	for _, s := range sessionTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Live reports whether the session still accepts progress updates.
func (s SessionState) Live() bool {
	return s == StateStarting || s == StateActive
}

// TransferSession is the coordinator's view of one tracked session.
type TransferSession struct {
	RequestID  RequestID    `json:"requestId"`
	TransferID TransferID   `json:"transferId,omitempty"`
	Role       Role         `json:"role"`
	SavePath   string       `json:"savePath"`
	State      SessionState `json:"state"`
}

// TransferStatus is a point-in-time engine reading for one native session.
type TransferStatus struct {
	ID          TransferID `json:"id"`
	Seeding     bool       `json:"seeding"`
	Peers       int        `json:"peers"`
	DownRateBps int64      `json:"downRateBps"`
	UpRateBps   int64      `json:"upRateBps"`
	BytesDone   int64      `json:"bytesDone"`
	BytesTotal  int64      `json:"bytesTotal"`
}
