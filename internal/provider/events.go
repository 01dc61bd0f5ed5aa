package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownEvent is returned by DecodeMessage for shapes outside the closed set.
var ErrUnknownEvent = errors.New("provider: unknown event")

// Event is one decoded message from the provider event socket. It is either a
// *ProjectEvent or a *JobEvent.
type Event interface {
	ProjectID() string
	isEvent()
}

type ProjectEventType string

const (
	ProjectUploadProgress ProjectEventType = "uploadProgress"
	ProjectUploadComplete ProjectEventType = "uploadComplete"
	ProjectCompleted      ProjectEventType = "completed"
	ProjectError          ProjectEventType = "error"
	ProjectFailed         ProjectEventType = "failed"
)

type JobEventType string

const (
	JobQueued     JobEventType = "queued"
	JobStarted    JobEventType = "started"
	JobInitiating JobEventType = "initiating"
	JobProgress   JobEventType = "progress"
	JobPreview    JobEventType = "preview"
	JobCompleted  JobEventType = "completed"
	JobError      JobEventType = "error"
	JobFailed     JobEventType = "failed"
)

// Progress carries whatever progress shape the provider sent. Value may be a
// fraction or a percentage; Step/StepCount is the alternative pair form.
type Progress struct {
	Value     *float64
	Step      *float64
	StepCount *float64
}

// ProjectEvent is a project-scoped lifecycle event.
type ProjectEvent struct {
	Type     ProjectEventType
	Project  string
	Progress Progress
	Error    string
}

func (e *ProjectEvent) ProjectID() string { return e.Project }
func (*ProjectEvent) isEvent()            {}

// JobEvent is a job-scoped lifecycle event.
type JobEvent struct {
	Type           JobEventType
	Project        string
	Job            string
	Progress       Progress
	WorkerName     string
	QueuePosition  *int
	PositivePrompt string
	ResultURL      string
	URL            string
	PreviewURL     string
	Error          string
}

func (e *JobEvent) ProjectID() string { return e.Project }
func (*JobEvent) isEvent()            {}

type wireEnvelope struct {
	Kind string      `json:"kind"`
	Data wirePayload `json:"data"`
}

type wirePayload struct {
	Type           string          `json:"type"`
	ProjectID      string          `json:"projectId"`
	JobID          string          `json:"jobId"`
	Progress       *float64        `json:"progress"`
	Step           *float64        `json:"step"`
	StepCount      *float64        `json:"stepCount"`
	WorkerName     string          `json:"workerName"`
	QueuePosition  *int            `json:"queuePosition"`
	PositivePrompt string          `json:"positivePrompt"`
	ResultURL      string          `json:"resultUrl"`
	URL            string          `json:"url"`
	PreviewURL     string          `json:"previewUrl"`
	Error          json.RawMessage `json:"error"`
	Message        string          `json:"message"`
}

// DecodeMessage turns a raw socket frame into a typed Event.
func DecodeMessage(raw []byte) (Event, error) {
	var env wireEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("provider: decode event: %w", err)
	}
	p := env.Data
	if strings.TrimSpace(p.ProjectID) == "" {
		return nil, fmt.Errorf("provider: event without project id: %w", ErrUnknownEvent)
	}
	progress := Progress{Value: p.Progress, Step: p.Step, StepCount: p.StepCount}

	switch env.Kind {
	case "project":
		t := ProjectEventType(p.Type)
		switch t {
		case ProjectUploadProgress, ProjectUploadComplete, ProjectCompleted, ProjectError, ProjectFailed:
		default:
			return nil, fmt.Errorf("%w: project/%s", ErrUnknownEvent, p.Type)
		}
		return &ProjectEvent{
			Type:     t,
			Project:  p.ProjectID,
			Progress: progress,
			Error:    errorText(p.Error, p.Message),
		}, nil
	case "job":
		t := JobEventType(p.Type)
		switch t {
		case JobQueued, JobStarted, JobInitiating, JobProgress, JobPreview, JobCompleted, JobError, JobFailed:
		default:
			return nil, fmt.Errorf("%w: job/%s", ErrUnknownEvent, p.Type)
		}
		if strings.TrimSpace(p.JobID) == "" {
			return nil, fmt.Errorf("provider: job event without job id: %w", ErrUnknownEvent)
		}
		return &JobEvent{
			Type:           t,
			Project:        p.ProjectID,
			Job:            p.JobID,
			Progress:       progress,
			WorkerName:     p.WorkerName,
			QueuePosition:  p.QueuePosition,
			PositivePrompt: p.PositivePrompt,
			ResultURL:      strings.TrimSpace(p.ResultURL),
			URL:            strings.TrimSpace(p.URL),
			PreviewURL:     strings.TrimSpace(p.PreviewURL),
			Error:          errorText(p.Error, p.Message),
		}, nil
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrUnknownEvent, env.Kind)
	}
}

// errorText flattens the error field, which the provider sends either as a
// plain string or as {code, message}.
func errorText(raw json.RawMessage, message string) string {
	if len(raw) > 0 && string(raw) != "null" {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
		var obj struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(raw, &obj); err == nil && strings.TrimSpace(obj.Message) != "" {
			return strings.TrimSpace(obj.Message)
		}
	}
	return strings.TrimSpace(message)
}
