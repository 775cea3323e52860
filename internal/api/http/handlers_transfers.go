package apihttp

import (
	"errors"
	"net/http"

	"filedrop/internal/domain"
)

type transferList struct {
	Items []domain.TransferSession `json:"items"`
	Count int                      `json:"count"`
}

type transferDetail struct {
	domain.TransferSession
	Status   *domain.StatusEvent `json:"status,omitempty"`
	Progress float64             `json:"progress"`
}

func (s *Server) handleTransfers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.transfers == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "transfers not configured")
		return
	}
	items := s.transfers.Sessions()
	if items == nil {
		items = []domain.TransferSession{}
	}
	writeJSON(w, http.StatusOK, transferList{Items: items, Count: len(items)})
}

func (s *Server) handleTransferByID(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/transfers/")
	switch {
	case len(parts) == 1:
		id := domain.RequestID(parts[0])
		switch r.Method {
		case http.MethodGet:
			s.handleGetTransfer(w, r, id)
		case http.MethodDelete:
			s.handleStopTransfer(w, r, id)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case len(parts) == 2 && parts[1] == "status":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.handleTransferStatus(w, r, domain.RequestID(parts[0]))
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleGetTransfer(w http.ResponseWriter, r *http.Request, id domain.RequestID) {
	if s.transfers == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "transfers not configured")
		return
	}
	session, ok := s.transfers.Session(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "transfer not found")
		return
	}
	detail := transferDetail{TransferSession: session}
	// Sessions still starting have no engine reading yet.
	if ev, err := s.transfers.Status(id); err == nil {
		detail.Status = &ev
		detail.Progress = progressRatio(ev.BytesDone, ev.BytesTotal)
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleStopTransfer(w http.ResponseWriter, r *http.Request, id domain.RequestID) {
	if s.stopTransfer == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "stop use case not configured")
		return
	}
	if err := s.stopTransfer.Execute(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTransferStatus prefers a live reading and falls back to the last
// recorded event, which survives the session.
func (s *Server) handleTransferStatus(w http.ResponseWriter, r *http.Request, id domain.RequestID) {
	if s.transfers != nil {
		ev, err := s.transfers.Status(id)
		if err == nil {
			writeJSON(w, http.StatusOK, newStatusView(ev))
			return
		}
		if !errors.Is(err, domain.ErrNotFound) {
			writeDomainError(w, err)
			return
		}
	}
	if s.snapshots == nil {
		writeError(w, http.StatusNotFound, "not_found", "transfer not found")
		return
	}
	ev, err := s.snapshots.Latest(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newStatusView(ev))
}
