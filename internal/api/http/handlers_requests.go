package apihttp

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"filedrop/internal/domain"
	"filedrop/internal/usecase"
)

type identityResponse struct {
	AccountID string `json:"accountId"`
	Alias     string `json:"alias"`
}

func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.namer == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "identity namer not configured")
		return
	}
	parts := splitPath(r.URL.Path, "/identity/")
	if len(parts) != 1 {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, identityResponse{AccountID: parts[0], Alias: s.namer.Alias(parts[0])})
}

func (s *Server) handleRequests(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSendFile(w, r)
	case http.MethodGet:
		s.handleListPending(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type sendFileJSON struct {
	SenderID      string `json:"senderId"`
	ReceiverAlias string `json:"receiverAlias"`
	Path          string `json:"path"`
}

func (s *Server) handleSendFile(w http.ResponseWriter, r *http.Request) {
	if s.sendFile == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "send file use case not configured")
		return
	}

	var body sendFileJSON
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid json")
		return
	}

	// Seeding hashes the whole file before the descriptor exists.
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	req, err := s.sendFile.Execute(ctx, usecase.SendFileInput{
		Path:          body.Path,
		SenderID:      body.SenderID,
		ReceiverAlias: body.ReceiverAlias,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

type requestList struct {
	Items []domain.DropRequest `json:"items"`
	Count int                  `json:"count"`
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	if s.requests == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "requests not configured")
		return
	}
	items, err := s.requests.ListPending(r.Context(), strings.TrimSpace(r.URL.Query().Get("alias")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if items == nil {
		items = []domain.DropRequest{}
	}
	writeJSON(w, http.StatusOK, requestList{Items: items, Count: len(items)})
}

func (s *Server) handleRequestByID(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/requests/")
	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.handleGetRequest(w, r, domain.RequestID(parts[0]))
	case len(parts) == 2:
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		id := domain.RequestID(parts[0])
		switch parts[1] {
		case "accept":
			s.handleAccept(w, r, id)
		case "decline":
			s.handleDecline(w, r, id)
		default:
			http.NotFound(w, r)
		}
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request, id domain.RequestID) {
	if s.requests == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "requests not configured")
		return
	}
	req, err := s.requests.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

type acceptJSON struct {
	ReceiverID string `json:"receiverId"`
	SaveDir    string `json:"saveDir,omitempty"`
}

type acceptResponse struct {
	Request domain.DropRequest `json:"request"`
	Warning string             `json:"warning,omitempty"`
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request, id domain.RequestID) {
	if s.acceptRequest == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "accept use case not configured")
		return
	}

	var body acceptJSON
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	req, err := s.acceptRequest.Execute(ctx, usecase.AcceptRequestInput{
		RequestID:  id,
		ReceiverID: body.ReceiverID,
		SaveDir:    body.SaveDir,
	})
	if err != nil && !storeOnly(err) {
		writeDomainError(w, err)
		return
	}

	resp := acceptResponse{Request: req}
	if err != nil {
		s.logger.Warn("accept stored with error",
			slog.String("requestId", string(id)),
			slog.String("error", err.Error()),
		)
		resp.Warning = err.Error()
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleDecline(w http.ResponseWriter, r *http.Request, id domain.RequestID) {
	if s.declineRequest == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "decline use case not configured")
		return
	}
	if err := s.declineRequest.Execute(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
