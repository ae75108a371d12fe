package rest

import "time"

// orchestrateRequest is the wire shape of POST /orchestrate.
type orchestrateRequest struct {
	Task          string `json:"task" validate:"required"`
	Language      string `json:"language,omitempty"`
	MaxIterations int    `json:"maxIterations,omitempty"`
	WorkspacePath string `json:"workspacePath,omitempty"`
}

type orchestrateResponse struct {
	JobID   string `json:"jobId"`
	Message string `json:"message"`
}

type fileDTO struct {
	Path       string `json:"path"`
	Content    string `json:"content"`
	ChangeType string `json:"changeType"`
}

type resultDTO struct {
	Files []fileDTO `json:"files"`
}

type errorDTO struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// statusResponse is the wire shape of one element of GET /jobs and of the
// GET /status/{jobId} body.
type statusResponse struct {
	JobID        string     `json:"jobId"`
	Status       string     `json:"status"`
	Progress     int        `json:"progress"`
	CurrentPhase string     `json:"currentPhase,omitempty"`
	Iteration    int        `json:"iteration"`
	StartedAt    time.Time  `json:"startedAt"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
	Result       *resultDTO `json:"result,omitempty"`
	Error        *errorDTO  `json:"error,omitempty"`
}

type cancelResponse struct {
	Message string `json:"message"`
}

type healthResponse struct {
	Status    string    `json:"status"`
	Service   string    `json:"service"`
	Timestamp time.Time `json:"timestamp"`
}

type apiError struct {
	Error string `json:"error"`
}
