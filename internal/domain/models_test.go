package domain

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestRequestStatusConstants(t *testing.T) {
	if RequestPending != "pending" {
		t.Fatalf("RequestPending = %q", RequestPending)
	}
	if RequestAccepted != "accepted" {
		t.Fatalf("RequestAccepted = %q", RequestAccepted)
	}
	if RequestDeclined != "declined" {
		t.Fatalf("RequestDeclined = %q", RequestDeclined)
	}
}

func TestDropRequestValidate(t *testing.T) {
	valid := DropRequest{
		ID:            "r1",
		SenderID:      "acct-1",
		ReceiverAlias: "Red-Lion-42",
		Filename:      "report.pdf",
		Filesize:      10,
		Status:        RequestPending,
		CreatedAt:     time.Now(),
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid request: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*DropRequest)
		want   string
	}{
		{"missing sender", func(r *DropRequest) { r.SenderID = " " }, "senderId"},
		{"missing alias", func(r *DropRequest) { r.ReceiverAlias = "" }, "receiverAlias"},
		{"missing filename", func(r *DropRequest) { r.Filename = "" }, "filename"},
		{"negative size", func(r *DropRequest) { r.Filesize = -1 }, "filesize"},
		{"missing status", func(r *DropRequest) { r.Status = "" }, "status is required"},
		{"bad status", func(r *DropRequest) { r.Status = "lost" }, "invalid status"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := valid
			tc.mutate(&r)
			err := r.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tc.want)
			}
		})
	}

	empty := valid
	empty.Filesize = 0
	if err := empty.Validate(); err != nil {
		t.Fatalf("zero-byte file should be valid: %v", err)
	}
}

func TestSessionStateTransitions(t *testing.T) {
	tests := []struct {
		from, to SessionState
		want     bool
	}{
		{StateStarting, StateActive, true},
		{StateStarting, StateRemoved, true},
		{StateStarting, StateErrored, true},
		{StateActive, StateFinished, true},
		{StateActive, StateErrored, true},
		{StateActive, StateRemoved, true},
		{StateActive, StateStarting, false},
		{StateFinished, StateRemoved, true},
		{StateFinished, StateActive, false},
		{StateErrored, StateFinished, false},
		{StateRemoved, StateActive, false},
		{StateRemoved, StateRemoved, false},
	}
	for _, tc := range tests {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestSessionStateLive(t *testing.T) {
	for state, want := range map[SessionState]bool{
		StateStarting: true,
		StateActive:   true,
		StateFinished: false,
		StateErrored:  false,
		StateRemoved:  false,
	} {
		if got := state.Live(); got != want {
			t.Errorf("%s.Live() = %v, want %v", state, got, want)
		}
	}
}

func TestRolePhase(t *testing.T) {
	if RoleSeed.Phase() != PhaseSending {
		t.Fatalf("seed phase = %s", RoleSeed.Phase())
	}
	if RoleDownload.Phase() != PhaseReceiving {
		t.Fatalf("download phase = %s", RoleDownload.Phase())
	}
}

func TestDropRequestJSONTags(t *testing.T) {
	expectJSONTag(t, DropRequest{}, "ID", "id")
	expectJSONTag(t, DropRequest{}, "SenderID", "senderId")
	expectJSONTag(t, DropRequest{}, "SenderAlias", "senderAlias")
	expectJSONTag(t, DropRequest{}, "ReceiverAlias", "receiverAlias")
	expectJSONTag(t, DropRequest{}, "Filesize", "filesize")
	expectJSONTag(t, DropRequest{}, "ReceiverID", "receiverId,omitempty")
	expectJSONTag(t, DropRequest{}, "Descriptor", "descriptor,omitempty")
}

func TestStatusEventJSONTags(t *testing.T) {
	expectJSONTag(t, StatusEvent{}, "RequestID", "requestId")
	expectJSONTag(t, StatusEvent{}, "DownRateBps", "downRateBps")
	expectJSONTag(t, StatusEvent{}, "UpRateBps", "upRateBps")
	expectJSONTag(t, StatusEvent{}, "BytesDone", "bytesDone")
	expectJSONTag(t, StatusEvent{}, "BytesTotal", "bytesTotal")
	expectJSONTag(t, StatusEvent{}, "Terminal", "terminal")
	expectJSONTag(t, ErrorEvent{}, "RequestID", "requestId,omitempty")
	expectJSONTag(t, ErrorEvent{}, "Message", "message")
}

func TestTransferSessionJSONTags(t *testing.T) {
	expectJSONTag(t, TransferSession{}, "RequestID", "requestId")
	expectJSONTag(t, TransferSession{}, "TransferID", "transferId,omitempty")
	expectJSONTag(t, TransferSession{}, "SavePath", "savePath")
	expectJSONTag(t, TransferSession{}, "State", "state")
}

func expectJSONTag(t *testing.T, v interface{}, fieldName, want string) {
	t.Helper()
	typ := reflect.TypeOf(v)
	field, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("missing field %s", fieldName)
	}
	if got := field.Tag.Get("json"); got != want {
		t.Fatalf("%s json tag = %q, want %q", fieldName, got, want)
	}
}
