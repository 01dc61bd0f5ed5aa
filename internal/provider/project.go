package provider

import (
	"context"
	"errors"
	"strings"
	"sync"

	"inkrelay/internal/domain"
)

// Backend is the slice of the provider API a Project needs after creation.
type Backend interface {
	JobResultURL(ctx context.Context, projectID, jobID string) (string, error)
	CancelProject(ctx context.Context, projectID string) error
}

// ControlNet carries the sketch used to guide generation.
type ControlNet struct {
	Name  string `json:"name"`
	Image []byte `json:"image"`
}

// ProjectParams is the create-project request body.
type ProjectParams struct {
	ModelID         string      `json:"modelId"`
	PositivePrompt  string      `json:"positivePrompt"`
	StylePrompt     string      `json:"stylePrompt,omitempty"`
	NumberOfImages  int         `json:"numberOfImages"`
	Steps           int         `json:"steps"`
	Guidance        float64     `json:"guidance"`
	Scheduler       string      `json:"scheduler"`
	TimeStepSpacing string      `json:"timeStepSpacing"`
	SizePreset      string      `json:"sizePreset"`
	Width           int         `json:"width"`
	Height          int         `json:"height"`
	TokenType       string      `json:"tokenType"`
	Seed            *int64      `json:"seed,omitempty"`
	ControlNet      *ControlNet `json:"controlNet,omitempty"`
}

// Project is the live handle for one provider invocation. Job indexes are
// fixed at construction from the order the provider returned the jobs.
type Project struct {
	id      string
	jobs    []domain.JobRef
	backend Backend

	mu   sync.RWMutex
	urls map[string]string
}

// NewProject builds a handle for project id with the given job ids.
func NewProject(id string, jobIDs []string, backend Backend) *Project {
	jobs := make([]domain.JobRef, len(jobIDs))
	for i, jobID := range jobIDs {
		jobs[i] = domain.JobRef{ID: jobID, Index: i}
	}
	return &Project{
		id:      id,
		jobs:    jobs,
		backend: backend,
		urls:    make(map[string]string),
	}
}

func (p *Project) ID() string { return p.id }

// Jobs returns a copy of the job descriptors in creation order.
func (p *Project) Jobs() []domain.JobRef {
	out := make([]domain.JobRef, len(p.jobs))
	copy(out, p.jobs)
	return out
}

// JobResultURL asks the provider for a freshly signed result URL and caches it.
func (p *Project) JobResultURL(ctx context.Context, jobID string) (string, error) {
	if p.backend == nil {
		return "", errors.New("provider: project has no backend")
	}
	url, err := p.backend.JobResultURL(ctx, p.id, jobID)
	if err != nil {
		return "", err
	}
	url = strings.TrimSpace(url)
	if url != "" {
		p.RememberResultURL(jobID, url)
	}
	return url, nil
}

// RememberResultURL records the last URL seen for jobID.
func (p *Project) RememberResultURL(jobID, url string) {
	url = strings.TrimSpace(url)
	if url == "" {
		return
	}
	p.mu.Lock()
	p.urls[jobID] = url
	p.mu.Unlock()
}

// CachedResultURL returns the last-known URL for jobID, possibly expired.
func (p *Project) CachedResultURL(jobID string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.urls[jobID]
}

// ResultURLs returns the cached URLs in job order, skipping unknown ones.
func (p *Project) ResultURLs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []string
	for _, job := range p.jobs {
		if url := p.urls[job.ID]; url != "" {
			out = append(out, url)
		}
	}
	return out
}

// Cancel asks the provider to stop the project.
func (p *Project) Cancel(ctx context.Context) error {
	if p.backend == nil {
		return errors.New("provider: project has no backend")
	}
	return p.backend.CancelProject(ctx, p.id)
}
