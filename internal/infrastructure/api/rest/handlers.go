package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/smilemakc/codegen-orchestrator/internal/domain"
	ws "github.com/smilemakc/codegen-orchestrator/internal/infrastructure/websocket"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// handleOrchestrate implements POST /orchestrate.
func (s *Server) handleOrchestrate(w http.ResponseWriter, r *http.Request) {
	var req orchestrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "malformed request body"})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	}

	id, err := s.jobs.Start(r.Context(), req.Task, req.MaxIterations)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to start job")
		writeJSON(w, http.StatusInternalServerError, orchestrateResponse{Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, orchestrateResponse{JobID: id, Message: "job accepted"})
}

// handleStatus implements GET /status/{jobId}.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Status(chi.URLParam(r, "jobId"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, apiError{Error: "job not found"})
		return
	}
	writeJSON(w, http.StatusOK, toStatusResponse(job))
}

// handleJobs implements GET /jobs.
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.jobs.List()
	out := make([]statusResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toStatusResponse(j))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleCancel implements POST /cancel/{jobId}.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobId")
	if err := s.jobs.Cancel(id); err != nil {
		if domain.CodeOf(err) == domain.ErrCodeNotFound {
			writeJSON(w, http.StatusNotFound, apiError{Error: "job not found"})
			return
		}
		writeJSON(w, http.StatusConflict, apiError{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, cancelResponse{Message: "cancellation requested"})
}

// handleHealth implements GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Service:   "codegen-orchestrator",
		Timestamp: time.Now(),
	})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleStream implements GET /status/{jobId}/stream, additive to the
// pinned polling surface: a client that already knows a job id can watch
// its phase timeline grow without repeated GET /status/{jobId} polling.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if _, err := s.jobs.Status(jobID); err != nil {
		writeJSON(w, http.StatusNotFound, apiError{Error: "job not found"})
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := ws.NewClient(s.hub, conn, jobID)
	client.Serve()
}

func toStatusResponse(job *domain.Job) statusResponse {
	timeline := job.Timeline()

	resp := statusResponse{
		JobID:     job.ID(),
		Status:    job.Status().String(),
		Iteration: len(job.Attempts()),
		StartedAt: job.CreatedAt(),
	}

	if len(timeline) > 0 {
		resp.CurrentPhase = timeline[len(timeline)-1].Phase.String()
	}
	resp.Progress = progressOf(job.Status(), timeline)

	if job.Status().IsTerminal() {
		finished := job.FinishedAt()
		resp.FinishedAt = &finished
	}

	switch job.Status() {
	case domain.JobStatusCompleted:
		files := make([]fileDTO, 0, len(job.Files()))
		for _, f := range job.Files() {
			files = append(files, fileDTO{Path: f.Path, Content: f.Content, ChangeType: "added"})
		}
		resp.Result = &resultDTO{Files: files}
	case domain.JobStatusFailed:
		if err := job.Err(); err != nil {
			resp.Error = &errorDTO{Kind: string(domain.CodeOf(err)), Message: err.Error()}
		}
	}

	return resp
}

// progressOf estimates completion percentage from the phase timeline
// since spec.md's progress field is presentational only; it is not read
// back by anything in the iteration loop.
func progressOf(status domain.JobStatus, timeline []domain.PhaseRecord) int {
	if status.IsTerminal() {
		return 100
	}
	if len(timeline) == 0 {
		return 0
	}
	switch timeline[len(timeline)-1].Phase {
	case domain.PhaseSelecting:
		return 20
	case domain.PhaseGenerating:
		return 45
	case domain.PhaseValidating:
		return 70
	case domain.PhaseFixing:
		return 85
	case domain.PhaseRecording:
		return 95
	default:
		return 5
	}
}
