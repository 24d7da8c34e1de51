// Package httpapi exposes the orchestrator to external collaborators: a
// read-only packet/document snapshot plus the mutation entry points. The UI
// and export layers consume this; they never touch pipeline state directly.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/dleary/packetflow/internal/packet"
	"github.com/dleary/packetflow/internal/pipeline"
	"github.com/dleary/packetflow/internal/quality"
	"github.com/dleary/packetflow/internal/review"
)

type Server struct {
	core *pipeline.Orchestrator
	// maxUpload bounds request bodies; oversized uploads get a 413 before
	// any pipeline work happens.
	maxUpload int64
}

func NewServer(core *pipeline.Orchestrator) http.Handler {
	s := &Server{core: core, maxUpload: 100 << 20}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /v1/packets", s.handleListPackets)
	mux.HandleFunc("POST /v1/packets", s.handleSubmit)
	mux.HandleFunc("GET /v1/packets/{id}", s.handleGetPacket)
	mux.HandleFunc("DELETE /v1/packets/{id}", s.handleRemovePacket)
	mux.HandleFunc("POST /v1/packets/{id}/retry", s.handleRetryPacket)
	mux.HandleFunc("POST /v1/packets/{id}/cancel", s.handleCancelPacket)
	mux.HandleFunc("POST /v1/packets/{id}/documents/{docID}/retry", s.handleRetryDocument)
	mux.HandleFunc("POST /v1/packets/{id}/documents/{docID}/approve", s.handleApprove)
	mux.HandleFunc("POST /v1/packets/{id}/documents/{docID}/reject", s.handleReject)
	mux.HandleFunc("POST /v1/packets/{id}/documents/{docID}/reclassify", s.handleReclassify)
	mux.HandleFunc("GET /v1/packets/{id}/documents/{docID}/trust", s.handleTrust)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"ok":    false,
		"error": map[string]any{"message": msg},
	})
}

// writeError maps the typed errors the lower layers expose: missing packets
// and documents become 404, state preconditions (retrying a non-failed
// packet, approving a document that never finished extraction) become 409.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var pipelineState *pipeline.StateError
	var reviewState *review.StateError
	switch {
	case errors.Is(err, pipeline.ErrNotFound):
		status = http.StatusNotFound
	case errors.As(err, &pipelineState), errors.As(err, &reviewState):
		status = http.StatusConflict
	}
	writeErrorMessage(w, status, err.Error())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleListPackets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "packets": s.core.Snapshot()})
}

func (s *Server) handleGetPacket(w http.ResponseWriter, r *http.Request) {
	snap, err := s.core.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "packet": snap})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	var filename string
	var data []byte
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, header, err := r.FormFile("file")
		if err != nil {
			writeErrorMessage(w, http.StatusBadRequest, "missing file field")
			return
		}
		defer file.Close()
		filename = header.Filename
		if data, err = io.ReadAll(file); err != nil {
			writeError(w, err)
			return
		}
	} else {
		var err error
		if data, err = io.ReadAll(r.Body); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeErrorMessage(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
				return
			}
			writeError(w, err)
			return
		}
		filename = r.URL.Query().Get("filename")
	}
	if filename == "" {
		filename = "packet.pdf"
	}

	id, err := s.core.Submit(r.Context(), filename, data)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "packet_id": id})
}

func (s *Server) handleRemovePacket(w http.ResponseWriter, r *http.Request) {
	if err := s.core.RemovePacket(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleRetryPacket(w http.ResponseWriter, r *http.Request) {
	if err := s.core.RetryPacket(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func (s *Server) handleCancelPacket(w http.ResponseWriter, r *http.Request) {
	if err := s.core.CancelPacket(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleRetryDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.core.RetryDocument(r.Context(), r.PathValue("id"), r.PathValue("docID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

type approveRequest struct {
	Reviewer    string                       `json:"reviewer"`
	Corrections map[string]packet.FieldValue `json:"corrections"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeErrorMessage(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if err := s.core.ApproveReview(r.Context(), r.PathValue("id"), r.PathValue("docID"), req.Reviewer, req.Corrections); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type rejectRequest struct {
	Reviewer string `json:"reviewer"`
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeErrorMessage(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if err := s.core.RejectReview(r.Context(), r.PathValue("id"), r.PathValue("docID"), req.Reviewer); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type reclassifyRequest struct {
	Category string `json:"category"`
	IsCustom bool   `json:"is_custom"`
}

func (s *Server) handleReclassify(w http.ResponseWriter, r *http.Request) {
	var req reclassifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if err := s.core.Reclassify(r.Context(), r.PathValue("id"), r.PathValue("docID"), req.Category, req.IsCustom); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleTrust(w http.ResponseWriter, r *http.Request) {
	assessment, err := s.core.Trust(r.PathValue("id"), r.PathValue("docID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":                    true,
		"trust":                 assessment.Trust,
		"score":                 assessment.Score,
		"confidence_coverage":   assessment.ConfidenceCoverage,
		"critical_completeness": assessment.CriticalCompleteness,
		"is_reviewed":           assessment.IsReviewed,
		"is_needs_review":       assessment.IsNeedsReview,
		"is_unscored":           assessment.IsUnscored,
		"tier":                  tierFor(assessment),
	})
}

func tierFor(a quality.TrustAssessment) quality.Tier {
	switch {
	case a.IsReviewed:
		return quality.TierVerified
	case a.IsNeedsReview:
		return quality.TierNeedsAttention
	case a.IsUnscored:
		return quality.TierUnscored
	default:
		return quality.TierHigh
	}
}
