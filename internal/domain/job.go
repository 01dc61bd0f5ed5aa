package domain

// JobStatus enumerates the lifecycle of a single render within a project.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusInitiating JobStatus = "initiating"
	JobStatusStarted    JobStatus = "started"
	JobStatusProgress   JobStatus = "progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions follow s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobRef identifies a job together with the index it was assigned when its
// project was created. The index never changes afterwards.
type JobRef struct {
	ID    string `json:"id"`
	Index int    `json:"index"`
}
