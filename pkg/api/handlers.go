package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vorion-labs/cognigate/pkg/intent"
	"github.com/vorion-labs/cognigate/pkg/observability"
	"github.com/vorion-labs/cognigate/pkg/orchestrator"
	"github.com/vorion-labs/cognigate/pkg/trustdyn"
)

const maxBodyBytes = 1 << 20

// decodeIntent reads and schema-validates the request body, then binds it
// into the typed Intent, stamping identity and submission time.
func (s *Server) decodeIntent(w http.ResponseWriter, r *http.Request) (*intent.Intent, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return nil, false
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return nil, false
	}
	if err := s.validator.Validate(doc); err != nil {
		WriteBadRequest(w, err.Error())
		return nil, false
	}

	var in intent.Intent
	if err := json.Unmarshal(raw, &in); err != nil {
		WriteBadRequest(w, "Invalid intent document")
		return nil, false
	}
	if in.IntentID == "" {
		in.IntentID = intent.NewID()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	return &in, true
}

func (s *Server) handleSubmitIntent(w http.ResponseWriter, r *http.Request) {
	in, ok := s.decodeIntent(w, r)
	if !ok {
		return
	}

	start := time.Now()
	res := s.opts.Processor.ProcessIntent(r.Context(), in)
	if s.opts.SLO != nil {
		s.opts.SLO.Record(observability.SLOObservation{
			Operation: observability.OpProcessIntent,
			Latency:   time.Since(start),
			Success:   res.Success,
		})
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetProofs(w http.ResponseWriter, r *http.Request) {
	intentID := chi.URLParam(r, "intentID")
	events, err := s.opts.Proofs.ListByIntent(r.Context(), intentID)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	if len(events) == 0 {
		WriteNotFound(w, "No proof events for intent "+intentID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"intent_id": intentID,
		"events":    events,
	})
}

// handleVerifyProofs re-verifies the whole chain; events hash-link across
// intents, so per-intent verification is meaningless on its own.
func (s *Server) handleVerifyProofs(w http.ResponseWriter, r *http.Request) {
	intentID := chi.URLParam(r, "intentID")
	events, err := s.opts.Proofs.ListByIntent(r.Context(), intentID)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	if len(events) == 0 {
		WriteNotFound(w, "No proof events for intent "+intentID)
		return
	}

	start := time.Now()
	verifyErr := s.opts.Proofs.VerifyChain(r.Context())
	if s.opts.SLO != nil {
		s.opts.SLO.Record(observability.SLOObservation{
			Operation: observability.OpProofVerify,
			Latency:   time.Since(start),
			Success:   verifyErr == nil,
		})
	}

	resp := map[string]any{
		"intent_id":    intentID,
		"event_count":  len(events),
		"chain_intact": verifyErr == nil,
	}
	if verifyErr != nil {
		resp["error"] = verifyErr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTrustStatus(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	profile, err := s.opts.Profiles.Get(r.Context(), agentID)
	if err != nil {
		WriteNotFound(w, "Unknown agent "+agentID)
		return
	}

	resp := map[string]any{
		"agent_id": agentID,
		"score":    profile.Score,
		"ceiling":  profile.Ceiling,
		"band":     intent.BandFromScore(profile.Score),
	}
	if s.opts.Trust != nil {
		// Dynamics state exists only once the agent has had an update.
		if state, err := s.opts.Trust.StateOf(agentID); err == nil {
			resp["dynamics"] = state
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleValidateConstraints(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var doc any
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := s.validator.Validate(doc); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"valid": false,
			"error": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true})
}

func (s *Server) handleUpsertAgent(w http.ResponseWriter, r *http.Request) {
	if s.opts.ProfileWriter == nil {
		WriteNotFound(w, "Agent registration not enabled")
		return
	}
	agentID := chi.URLParam(r, "agentID")

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var body struct {
		Score   float64 `json:"score"`
		Ceiling float64 `json:"ceiling"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	profile := &orchestrator.Profile{AgentID: agentID, Score: body.Score, Ceiling: body.Ceiling}
	if err := s.opts.ProfileWriter.Put(r.Context(), profile); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleResetBreaker(w http.ResponseWriter, r *http.Request) {
	if s.opts.Trust == nil {
		WriteInternal(w, errors.New("trust engine not wired"))
		return
	}
	agentID := chi.URLParam(r, "agentID")
	if err := s.opts.Trust.ResetCircuitBreaker(agentID, true); err != nil {
		if errors.Is(err, trustdyn.ErrUnknownAgent) {
			WriteNotFound(w, "Unknown agent "+agentID)
			return
		}
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agent_id": agentID,
		"reset":    true,
	})
}

func (s *Server) handleSLOStatus(w http.ResponseWriter, r *http.Request) {
	if s.opts.SLO == nil {
		WriteNotFound(w, "SLO tracking not enabled")
		return
	}
	operation := chi.URLParam(r, "operation")
	status, err := s.opts.SLO.Status(operation)
	if err != nil {
		WriteNotFound(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.opts.Health == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		return
	}
	layers := s.opts.Health.Health(r.Context())
	status := "ok"
	code := http.StatusOK
	for _, hs := range layers {
		if !hs.Healthy {
			status = "degraded"
			code = http.StatusServiceUnavailable
			break
		}
	}
	writeJSON(w, code, map[string]any{
		"status": status,
		"layers": layers,
	})
}
