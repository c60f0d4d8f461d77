package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/vocero-ai/vocero/internal/callstate"
	"github.com/vocero-ai/vocero/internal/deliver"
	"github.com/vocero-ai/vocero/pkg/types"
)

// HistoryProvider serves stored transcripts.
type HistoryProvider interface {
	History(ctx context.Context, callID, targetLang string, limit int) ([]types.TranscriptEntry, error)
}

// CallAPI is the REST surface for call lifecycle management: the signaling
// layer creates calls and drives their status here, and clients fetch
// transcripts after the fact.
type CallAPI struct {
	store       callstate.Store
	controls    ControlPublisher
	transcripts HistoryProvider
	log         *slog.Logger

	// OnEnded, if set, runs after a call reaches a terminal status. Used to
	// release per-call pipeline state.
	OnEnded func(callID string)
}

// NewCallAPI creates a CallAPI. transcripts may be nil, which disables the
// transcript endpoint.
func NewCallAPI(store callstate.Store, controls ControlPublisher, transcripts HistoryProvider, log *slog.Logger) *CallAPI {
	if log == nil {
		log = slog.Default()
	}
	return &CallAPI{store: store, controls: controls, transcripts: transcripts, log: log}
}

// Register adds the call routes to mux.
func (a *CallAPI) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /calls", a.handleCreate)
	mux.HandleFunc("GET /calls/{call_id}", a.handleGet)
	mux.HandleFunc("POST /calls/{call_id}/status", a.handleStatus)
	mux.HandleFunc("GET /calls/{call_id}/transcript", a.handleTranscript)
}

type callResponse struct {
	CallID       string `json:"call_id"`
	Status       string `json:"status"`
	CallLanguage string `json:"call_language,omitempty"`
}

func (a *CallAPI) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CallID       string `json:"call_id"`
		CallLanguage string `json:"call_language"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "malformed body")
			return
		}
	}
	if req.CallID == "" {
		req.CallID = uuid.NewString()
	}

	call, err := a.store.CreateCall(r.Context(), req.CallID, req.CallLanguage)
	if err != nil {
		a.log.Error("call creation failed", "call_id", req.CallID, "error", err)
		httpError(w, http.StatusInternalServerError, "call creation failed")
		return
	}
	a.log.Info("call created", "call_id", call.ID, "call_language", call.Language)
	writeJSONBody(w, http.StatusCreated, callResponse{
		CallID:       call.ID,
		Status:       string(call.Status),
		CallLanguage: call.Language,
	})
}

func (a *CallAPI) handleGet(w http.ResponseWriter, r *http.Request) {
	call, err := a.store.GetCall(r.Context(), r.PathValue("call_id"))
	if errors.Is(err, callstate.ErrCallNotFound) {
		httpError(w, http.StatusNotFound, "unknown call")
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSONBody(w, http.StatusOK, callResponse{
		CallID:       call.ID,
		Status:       string(call.Status),
		CallLanguage: call.Language,
	})
}

func (a *CallAPI) handleStatus(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("call_id")

	var req struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "malformed body")
		return
	}
	status := types.CallStatus(req.Status)
	if !status.IsValid() {
		httpError(w, http.StatusBadRequest, "unknown status")
		return
	}

	err := a.store.SetStatus(r.Context(), callID, status)
	switch {
	case errors.Is(err, callstate.ErrCallNotFound):
		httpError(w, http.StatusNotFound, "unknown call")
		return
	case errors.Is(err, callstate.ErrCallEnded):
		httpError(w, http.StatusConflict, "call already ended")
		return
	case err != nil:
		a.log.Error("status transition failed", "call_id", callID, "error", err)
		httpError(w, http.StatusInternalServerError, "transition failed")
		return
	}

	if status.Terminal() {
		err := a.controls.PublishControl(r.Context(), deliver.ControlEvent{
			Event:  deliver.EventCallEnded,
			CallID: callID,
			Reason: req.Reason,
		})
		if err != nil {
			a.log.Error("call end broadcast failed", "call_id", callID, "error", err)
		}
		if a.OnEnded != nil {
			a.OnEnded(callID)
		}
	}

	a.log.Info("call status changed", "call_id", callID, "status", status)
	writeJSONBody(w, http.StatusOK, callResponse{CallID: callID, Status: string(status)})
}

func (a *CallAPI) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if a.transcripts == nil {
		httpError(w, http.StatusNotImplemented, "transcripts disabled")
		return
	}
	callID := r.PathValue("call_id")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httpError(w, http.StatusBadRequest, "bad limit")
			return
		}
		limit = n
	}

	entries, err := a.transcripts.History(r.Context(), callID, r.URL.Query().Get("lang"), limit)
	if err != nil {
		a.log.Error("transcript fetch failed", "call_id", callID, "error", err)
		httpError(w, http.StatusInternalServerError, "transcript fetch failed")
		return
	}

	type entryResponse struct {
		SpeakerID      string `json:"speaker_id"`
		SourceLang     string `json:"source_lang"`
		OriginalText   string `json:"original_text"`
		TargetLang     string `json:"target_lang"`
		TranslatedText string `json:"translated_text"`
		TimestampMS    int64  `json:"timestamp_ms"`
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryResponse{
			SpeakerID:      e.SpeakerID,
			SourceLang:     e.SourceLang,
			OriginalText:   e.OriginalText,
			TargetLang:     e.TargetLang,
			TranslatedText: e.TranslatedText,
			TimestampMS:    e.TimestampMS,
		})
	}
	writeJSONBody(w, http.StatusOK, map[string]any{"call_id": callID, "entries": out})
}

func httpError(w http.ResponseWriter, status int, message string) {
	writeJSONBody(w, status, map[string]string{"error": message})
}

func writeJSONBody(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
