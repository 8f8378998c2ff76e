package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/robertor4/transcribe-sub002/id"
	"github.com/robertor4/transcribe-sub002/job"
)

// SubmitRequest is the body for POST /v1/transcriptions.
type SubmitRequest struct {
	UserID         string `json:"user_id"`
	SourceLocation string `json:"source_location"`
	Language       string `json:"language,omitempty"`
	Priority       int    `json:"priority,omitempty"`
	MaxAttempts    int    `json:"max_attempts,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

func (a *API) submitTranscription(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.badRequest(w, "invalid JSON body")
		return
	}
	if req.UserID == "" || req.SourceLocation == "" {
		a.badRequest(w, "user_id and source_location are required")
		return
	}

	var opts []job.Option
	if req.Language != "" {
		opts = append(opts, job.WithLanguage(req.Language))
	}
	if req.Priority != 0 {
		opts = append(opts, job.WithPriority(req.Priority))
	}
	if req.MaxAttempts > 0 {
		opts = append(opts, job.WithMaxAttempts(req.MaxAttempts))
	}
	if req.TimeoutSeconds > 0 {
		opts = append(opts, job.WithTimeout(time.Duration(req.TimeoutSeconds)*time.Second))
	}

	j, err := a.eng.Submit(r.Context(), req.UserID, req.SourceLocation, opts...)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusAccepted, j)
}

func (a *API) getTranscription(w http.ResponseWriter, r *http.Request) {
	trID, err := id.ParseTranscriptionID(r.PathValue("id"))
	if err != nil {
		a.badRequest(w, "invalid transcription ID")
		return
	}
	j, err := a.eng.Job(r.Context(), trID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, j)
}

func (a *API) getResult(w http.ResponseWriter, r *http.Request) {
	trID, err := id.ParseTranscriptionID(r.PathValue("id"))
	if err != nil {
		a.badRequest(w, "invalid transcription ID")
		return
	}
	res, err := a.eng.Result(r.Context(), trID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, res)
}

// allStatuses is the default filter for listing.
var allStatuses = []job.Status{
	job.StatusPending,
	job.StatusProcessing,
	job.StatusCompleted,
	job.StatusFailed,
}

func (a *API) listTranscriptions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	statuses := allStatuses
	if s := q.Get("status"); s != "" {
		statuses = []job.Status{job.Status(s)}
	}
	opts := job.ListOpts{
		UserID: q.Get("user"),
		Limit:  intParam(q.Get("limit"), 50),
		Offset: intParam(q.Get("offset"), 0),
	}

	jobs, err := a.eng.JobStore().ListJobsByStatus(r.Context(), statuses, opts)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	a.writeJSON(w, http.StatusOK, jobs)
}

func intParam(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}
