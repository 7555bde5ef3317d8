package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/dativo-io/aegis/internal/audit"
	"github.com/dativo-io/aegis/internal/entity"
	"github.com/dativo-io/aegis/internal/eval"
	"github.com/dativo-io/aegis/internal/mask"
	"github.com/dativo-io/aegis/internal/shield"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status": "ok",
		"mode":   s.mode,
		"uptime": time.Since(s.startTime).String(),
	}
	if r.URL.Query().Get("detail") == "true" {
		components := map[string]string{"shield": "ok"}
		if s.auditStore == nil {
			components["audit_store"] = "disabled"
		} else {
			components["audit_store"] = "ok"
		}
		resp["components"] = components
	}
	writeJSON(w, http.StatusOK, resp)
}

type protectRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Strategy string `json:"strategy"`
}

func (s *Server) callOptions(req protectRequest) []shield.CallOption {
	var opts []shield.CallOption
	if req.Language != "" {
		opts = append(opts, shield.WithLanguage(req.Language))
	}
	if req.Strategy != "" {
		opts = append(opts, shield.WithStrategy(req.Strategy))
	}
	return opts
}

func (s *Server) handleProtect(w http.ResponseWriter, r *http.Request) {
	var req protectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}

	res, err := s.shield.Protect(r.Context(), req.Text, s.callOptions(req)...)
	if err != nil {
		if errors.Is(err, mask.ErrUnknownStrategy) {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		log.Error().Err(err).Msg("protect_error")
		writeError(w, http.StatusBadGateway, "detection_failed", err.Error())
		return
	}

	s.record(r, "protect", res)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"masked_text":      res.MaskedText,
		"spans":            res.Spans,
		"entity_counts":    res.EntityCounts,
		"language":         res.Language,
		"strategy":         res.Strategy,
		"adapter_failures": res.AdapterFailures,
		"duration_ms":      res.Duration.Milliseconds(),
	})
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req protectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}

	spans, failures, err := s.shield.Detect(r.Context(), req.Text, s.callOptions(req)...)
	if err != nil {
		log.Error().Err(err).Msg("detect_error")
		writeError(w, http.StatusBadGateway, "detection_failed", err.Error())
		return
	}

	if spans == nil {
		spans = []entity.Span{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"spans":            spans,
		"adapter_failures": failures,
	})
}

type evaluateRequest struct {
	Samples      []eval.LabeledSample `json:"samples"`
	Language     string               `json:"language"`
	IoUThreshold float64              `json:"iou_threshold"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}
	if len(req.Samples) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "samples are required")
		return
	}

	detect := func(ctx context.Context, text, language string) ([]entity.Span, error) {
		var opts []shield.CallOption
		if language != "" {
			opts = append(opts, shield.WithLanguage(language))
		}
		spans, _, err := s.shield.Detect(ctx, text, opts...)
		return spans, err
	}

	var evalOpts []eval.Option
	if req.IoUThreshold > 0 {
		evalOpts = append(evalOpts, eval.WithIoUThreshold(req.IoUThreshold))
	}
	evaluator, err := eval.NewEvaluator(detect, evalOpts...)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	ds := &eval.Dataset{Samples: req.Samples}
	if req.Language != "" {
		ds = ds.FilterByLanguage(req.Language)
	}

	report, err := evaluator.Evaluate(r.Context(), ds)
	if err != nil {
		log.Error().Err(err).Msg("evaluate_error")
		writeError(w, http.StatusBadGateway, "evaluation_failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleAuditList(w http.ResponseWriter, r *http.Request) {
	if s.auditStore == nil {
		writeError(w, http.StatusNotFound, "audit_disabled", "audit store is not configured")
		return
	}

	q := r.URL.Query()
	limit := 50
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = n
	}

	var from, to time.Time
	if v := q.Get("from"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "from must be RFC3339")
			return
		}
		from = parsed
	}
	if v := q.Get("to"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "to must be RFC3339")
			return
		}
		to = parsed
	}

	records, err := s.auditStore.List(r.Context(), q.Get("operation"), from, to, limit)
	if err != nil {
		log.Error().Err(err).Msg("audit_list_error")
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if records == nil {
		records = []audit.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"records": records})
}

func (s *Server) handleAuditGet(w http.ResponseWriter, r *http.Request) {
	if s.auditStore == nil {
		writeError(w, http.StatusNotFound, "audit_disabled", "audit store is not configured")
		return
	}

	rec, err := s.auditStore.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleAuditTotals(w http.ResponseWriter, r *http.Request) {
	if s.auditStore == nil {
		writeError(w, http.StatusNotFound, "audit_disabled", "audit store is not configured")
		return
	}

	totals, err := s.auditStore.EntityTotals(r.Context(), time.Time{}, time.Time{})
	if err != nil {
		log.Error().Err(err).Msg("audit_totals_error")
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entity_totals": totals})
}

// record persists the run summary; persistence failures are logged, never
// surfaced to the caller.
func (s *Server) record(r *http.Request, operation string, res *shield.Result) {
	if s.auditStore == nil {
		return
	}
	rec := audit.NewRecord(operation, s.mode, res)
	if err := s.auditStore.Save(r.Context(), rec); err != nil {
		log.Error().Err(err).Str("operation", operation).Msg("audit_save_error")
	}
}
