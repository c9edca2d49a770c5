package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ibnr-engine/internal/estimate"
	"github.com/sells-group/ibnr-engine/internal/model"
	"github.com/sells-group/ibnr-engine/internal/reserve"
	"github.com/sells-group/ibnr-engine/internal/store"
)

// parseAsOf reads the optional as_of query parameter. An empty value means
// the latest committed run.
func (s *Server) parseAsOf(r *http.Request) (model.Period, error) {
	raw := r.URL.Query().Get("as_of")
	if raw == "" {
		return model.Period{}, nil
	}
	return s.period(raw)
}

func (s *Server) period(raw string) (model.Period, error) {
	p, err := model.ParsePeriod(raw)
	if err != nil {
		return model.Period{}, err
	}
	if s.grain != "" && p.Grain != s.grain {
		return model.Period{}, eris.Errorf("period %s does not match the configured %s grain", raw, s.grain)
	}
	return p, nil
}

type estimatesResponse struct {
	Estimates []model.ReserveEstimate `json:"estimates"`
}

func (s *Server) estimates(w http.ResponseWriter, r *http.Request) {
	asOf, err := s.parseAsOf(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ests, err := s.store.GetReserveEstimates(r.Context(), asOf, r.URL.Query().Get("category"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if ests == nil {
		ests = []model.ReserveEstimate{}
	}
	writeJSON(w, http.StatusOK, estimatesResponse{Estimates: ests})
}

type fundingResponse struct {
	Funding []model.FundingStatus `json:"funding"`
}

func (s *Server) funding(w http.ResponseWriter, r *http.Request) {
	asOf, err := s.parseAsOf(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	fs, err := s.store.GetFundingStatus(r.Context(), asOf, r.URL.Query().Get("category"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if fs == nil {
		fs = []model.FundingStatus{}
	}
	writeJSON(w, http.StatusOK, fundingResponse{Funding: fs})
}

func (s *Server) triangle(w http.ResponseWriter, r *http.Request) {
	tri, err := s.store.GetTriangle(r.Context(), chi.URLParam(r, "category"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tri)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{Status: model.RunStatus(q.Get("status"))}

	var err error
	if filter.AsOf, err = s.parseAsOf(r); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

type recalculateRequest struct {
	AsOf       string    `json:"as_of"`
	SnapshotAt time.Time `json:"snapshot_at"`
	Categories []string  `json:"categories"`
	DryRun     bool      `json:"dry_run"`
}

func (s *Server) recalculate(w http.ResponseWriter, r *http.Request) {
	async := r.URL.Query().Get("async") == "true"
	if (async && s.queue == nil) || (!async && s.engine == nil) {
		writeError(w, http.StatusServiceUnavailable, "recalculation is not available on this server")
		return
	}

	var body recalculateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(body.AsOf) == "" {
		writeError(w, http.StatusBadRequest, "as_of is required")
		return
	}
	asOf, err := s.period(body.AsOf)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req := reserve.RunRequest{
		AsOf:       asOf,
		SnapshotAt: body.SnapshotAt,
		Categories: body.Categories,
		DryRun:     body.DryRun,
	}

	if async {
		s.enqueue(w, r, req)
		return
	}
	s.runNow(w, r, req)
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request, req reserve.RunRequest) {
	enq, err := s.queue.EnqueueRecalculate(r.Context(), req)
	if err != nil {
		zap.L().Error("api: enqueue recalculate", zap.String("as_of", req.AsOf.String()), zap.Error(err))
		writeError(w, http.StatusBadGateway, "could not enqueue recalculation")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":      "accepted",
		"as_of":       req.AsOf.String(),
		"workflow_id": enq.WorkflowID,
		"run_id":      enq.RunID,
	})
}

func (s *Server) runNow(w http.ResponseWriter, r *http.Request, req reserve.RunRequest) {
	res, err := s.engine.Recalculate(r.Context(), req)
	if res != nil && res.Run != nil && s.notifier != nil && !req.DryRun {
		s.notifier.NotifyRun(r.Context(), res.Run)
	}
	if err != nil {
		writeRunError(w, res, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// writeRunError maps engine failures onto HTTP statuses. The failed run is
// returned alongside the error when one was recorded.
func writeRunError(w http.ResponseWriter, res *reserve.RunResult, err error) {
	var (
		noEst  *reserve.NoEstimatesError
		cfgErr *estimate.ConfigurationError
		commit *reserve.RunCommitError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, reserve.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.As(err, &noEst), errors.As(err, &cfgErr):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &commit):
		status = http.StatusServiceUnavailable
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		zap.L().Error("api: recalculate", zap.Error(err))
		msg = "internal error"
	}

	body := map[string]any{"error": msg}
	if res != nil && res.Run != nil {
		body["run"] = res.Run
	}
	writeJSON(w, status, body)
}
