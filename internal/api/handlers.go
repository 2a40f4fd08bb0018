package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/itstheanurag/gradebox/internal/grader"
	"github.com/itstheanurag/gradebox/internal/languages"
	"github.com/itstheanurag/gradebox/internal/queue"
	"github.com/itstheanurag/gradebox/internal/sandbox"
	"github.com/rs/zerolog"
)

// maxBodyBytes bounds a run request, which carries source code and inputs.
const maxBodyBytes = 8 << 20

type RunRequest struct {
	Language   string           `json:"language"`
	SourceCode string           `json:"source_code"`
	TestCases  []grader.RunCase `json:"test_cases"`
}

type GradeResponse struct {
	JobID        string `json:"job_id"`
	SubmissionID string `json:"submission_id"`
}

type HealthResponse struct {
	Image  string                `json:"image"`
	Status sandbox.RuntimeStatus `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type Runner interface {
	Run(ctx context.Context, code, language string, cases []grader.RunCase) (*grader.RunReport, error)
}

type Enqueuer interface {
	TrySubmit(job *queue.Job) error
}

type Prober interface {
	Probe(ctx context.Context, image string) sandbox.RuntimeStatus
}

type RuntimeLister interface {
	List(ctx context.Context) ([]languages.RuntimeConfig, error)
}

type Handler struct {
	runner      Runner
	queue       Enqueuer
	prober      Prober
	runtimes    RuntimeLister
	maxRunCases int
	logger      *zerolog.Logger
}

func NewHandler(runner Runner, q Enqueuer, prober Prober, runtimes RuntimeLister, maxRunCases int, logger *zerolog.Logger) *Handler {
	return &Handler{
		runner:      runner,
		queue:       q,
		prober:      prober,
		runtimes:    runtimes,
		maxRunCases: max(maxRunCases, 1),
		logger:      logger,
	}
}

// Run executes code against caller-supplied test cases without persisting
// anything.
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Language = strings.TrimSpace(req.Language)
	if req.Language == "" {
		writeError(w, http.StatusBadRequest, "language is required")
		return
	}
	if len(req.TestCases) == 0 {
		req.TestCases = []grader.RunCase{{Input: ""}}
	}
	if len(req.TestCases) > h.maxRunCases {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d test cases per run", h.maxRunCases))
		return
	}

	report, err := h.runner.Run(r.Context(), req.SourceCode, req.Language, req.TestCases)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, report)
	case errors.Is(err, languages.ErrRuntimeMissing):
		writeError(w, http.StatusBadRequest, err.Error())
	case grader.IsRetryable(err):
		h.logger.Error().Err(err).Str("language", req.Language).Msg("run failed on sandbox")
		writeError(w, http.StatusServiceUnavailable, "Execution environment unavailable")
	default:
		h.logger.Error().Err(err).Str("language", req.Language).Msg("run failed")
		writeError(w, http.StatusInternalServerError, "Execution failed: "+err.Error())
	}
}

// Grade queues a stored submission for grading.
func (h *Handler) Grade(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "submission id is required")
		return
	}

	job := queue.NewJob(id, nil)
	if err := h.queue.TrySubmit(job); err != nil {
		if errors.Is(err, queue.ErrQueueFull) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.logger.Info().Str("job_id", job.ID).Str("submission_id", id).Msg("submission queued")
	writeJSON(w, http.StatusAccepted, GradeResponse{JobID: job.ID, SubmissionID: id})
}

func (h *Handler) RuntimeHealth(w http.ResponseWriter, r *http.Request) {
	image := r.URL.Query().Get("image")
	if !languages.ValidImage(image) {
		writeError(w, http.StatusBadRequest, "a valid image query parameter is required")
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Image: image, Status: h.prober.Probe(r.Context(), image)})
}

func (h *Handler) Runtimes(w http.ResponseWriter, r *http.Request) {
	rts, err := h.runtimes.List(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list runtimes")
		writeError(w, http.StatusInternalServerError, "failed to list runtimes")
		return
	}
	writeJSON(w, http.StatusOK, rts)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
