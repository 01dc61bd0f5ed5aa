package relay

import (
	"net/url"
)

// Client-facing event types.
const (
	TypeConnected      = "connected"
	TypeProgress       = "progress"
	TypeQueued         = "queued"
	TypeStarted        = "started"
	TypeInitiating     = "initiating"
	TypePreview        = "preview"
	TypeJobCompleted   = "jobCompleted"
	TypeFinal          = "final"
	TypeResult         = "result"
	TypeResults        = "results"
	TypeCompleted      = "completed"
	TypeJobFailed      = "jobFailed"
	TypeFailed         = "failed"
	TypeUploadProgress = "uploadProgress"
	TypeUploadComplete = "uploadComplete"
)

// scopeJob marks the normalized job-level shapes so clients can tell them
// apart from the legacy flat aliases that share a type.
const scopeJob = "job"

// Event is one SSE frame payload. ProjectID is filled in by the broadcaster.
type Event struct {
	Type           string     `json:"type"`
	Event          string     `json:"event,omitempty"`
	ProjectID      string     `json:"projectId"`
	JobID          string     `json:"jobId,omitempty"`
	JobIndex       *int       `json:"jobIndex,omitempty"`
	Progress       *float64   `json:"progress,omitempty"`
	WorkerName     string     `json:"workerName,omitempty"`
	QueuePosition  *int       `json:"queuePosition,omitempty"`
	PositivePrompt string     `json:"positivePrompt,omitempty"`
	URL            string     `json:"url,omitempty"`
	Job            *JobResult `json:"job,omitempty"`
	Results        []string   `json:"results,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// JobResult is the structured payload of a jobCompleted event.
type JobResult struct {
	ID             string `json:"id"`
	Index          *int   `json:"index,omitempty"`
	ResultURL      string `json:"resultUrl,omitempty"`
	PositivePrompt string `json:"positivePrompt,omitempty"`
	ProxyURL       string `json:"proxyUrl"`
}

// ProxyPath is the same-origin path the result proxy serves a job under.
func ProxyPath(projectID, jobID string) string {
	return "/result/" + url.PathEscape(projectID) + "/" + url.PathEscape(jobID)
}

func floatPtr(v float64) *float64 { return &v }
