package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/FairForge/failsafe/internal/backup"
	"github.com/FairForge/failsafe/internal/drtest"
	"github.com/FairForge/failsafe/internal/health"
	"github.com/FairForge/failsafe/internal/replication"
)

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.startTime).Seconds(),
	})
}

// drStatus is the aggregate view of the orchestrated DR posture.
type drStatus struct {
	ActiveEndpoint *health.Endpoint     `json:"active_endpoint"`
	Endpoints      []health.Endpoint    `json:"endpoints"`
	Regions        []replication.Region `json:"regions"`
}

func (s *Server) handleDRStatus(w http.ResponseWriter, _ *http.Request) {
	status := drStatus{
		Endpoints: s.monitor.Snapshot(),
		Regions:   s.repl.Regions(),
	}
	if active, ok := s.failover.Active(); ok {
		status.ActiveEndpoint = &active
	}

	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleDRReport(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.harness.Report())
}

func (s *Server) handleRunAllTests(w http.ResponseWriter, r *http.Request) {
	results := s.harness.RunAll(r.Context())
	for _, res := range results {
		s.persistResult(r.Context(), res)
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleRunTest(w http.ResponseWriter, r *http.Request) {
	category := drtest.Category(chi.URLParam(r, "category"))

	result, err := s.harness.RunTest(r.Context(), category)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	s.persistResult(r.Context(), result)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListEndpoints(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.Snapshot())
}

func (s *Server) handleListRegions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.repl.Regions())
}

func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := s.repl.Promote(name); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Info("region promoted via api", zap.String("region", name))

	region, _ := s.repl.Region(name)
	writeJSON(w, http.StatusOK, region)
}

func (s *Server) handleListBackups(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Jobs())
}

type createBackupRequest struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

func (s *Server) handleCreateBackup(w http.ResponseWriter, r *http.Request) {
	var req createBackupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	source := req.Source
	if source == "" {
		source = s.config.Backup.Source
	}
	dest := req.Destination
	if dest == "" {
		dest = s.config.Backup.Destination
	}

	job, err := s.engine.CreateBackup(r.Context(), source, dest)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.persistJob(r.Context(), job)
	writeJSON(w, http.StatusAccepted, job)
}

type restoreRequest struct {
	Destination string `json:"destination"`
}

func (s *Server) handleRestoreBackup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, ok := s.engine.Job(id)
	if !ok {
		writeError(w, http.StatusNotFound, "backup job not found")
		return
	}

	var req restoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Destination == "" {
		writeError(w, http.StatusBadRequest, "restore destination required")
		return
	}

	restored := s.engine.RestoreBackup(r.Context(), &job, req.Destination)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job_id":   id,
		"restored": restored,
	})
}

// history endpoints serve persisted records across restarts, unlike the
// in-memory listings above.

func (s *Server) handleBackupHistory(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		writeError(w, http.StatusServiceUnavailable, "catalog not configured")
		return
	}

	jobs, err := s.catalog.ListJobs(r.Context(), queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleTestHistory(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		writeError(w, http.StatusServiceUnavailable, "catalog not configured")
		return
	}

	results, err := s.catalog.ListResults(r.Context(), queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0 // store default
	}
	return n
}

// persistJob records a terminal job in the catalog. Catalog outages are
// logged, not surfaced: the in-memory record already answered the request.
func (s *Server) persistJob(ctx context.Context, job *backup.Job) {
	if s.catalog == nil {
		return
	}
	if err := s.catalog.SaveJob(ctx, job); err != nil {
		s.logger.Error("catalog: save backup job failed",
			zap.String("job", job.ID),
			zap.Error(err))
	}
}

func (s *Server) persistResult(ctx context.Context, res drtest.Result) {
	if s.catalog == nil {
		return
	}
	if err := s.catalog.SaveResult(ctx, res); err != nil {
		s.logger.Error("catalog: save test result failed",
			zap.String("category", string(res.Category)),
			zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
