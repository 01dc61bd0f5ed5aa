package relay

import (
	"golang.org/x/sync/errgroup"

	"inkrelay/internal/domain"
	"inkrelay/internal/provider"
)

const (
	defaultJobFailure     = "Job failed"
	defaultProjectFailure = "Generation failed"
	resultLookupWorkers   = 4
)

func (s *session) handle(ev provider.Event) {
	if s.terminal {
		return
	}
	switch e := ev.(type) {
	case *provider.JobEvent:
		s.handleJob(e)
	case *provider.ProjectEvent:
		s.handleProject(e)
	}
}

func (s *session) handleJob(e *provider.JobEvent) {
	if s.jobs[e.Job].Terminal() {
		return
	}
	idx := s.jobIndex(e.Job)

	switch e.Type {
	case provider.JobQueued, provider.JobStarted, provider.JobInitiating:
		s.jobs[e.Job] = lifecycleStatus(e.Type)
		s.emit(Event{
			Type:          string(e.Type),
			Event:         scopeJob,
			JobID:         e.Job,
			JobIndex:      idx,
			WorkerName:    e.WorkerName,
			QueuePosition: e.QueuePosition,
		})

	case provider.JobProgress:
		s.jobs[e.Job] = domain.JobStatusProgress
		progress := NormalizeProgress(e.Progress)
		s.emit(Event{
			Type:           TypeProgress,
			Event:          scopeJob,
			JobID:          e.Job,
			JobIndex:       idx,
			Progress:       floatPtr(progress),
			WorkerName:     e.WorkerName,
			QueuePosition:  e.QueuePosition,
			PositivePrompt: e.PositivePrompt,
		})
		s.emit(Event{
			Type:     TypeProgress,
			JobID:    e.Job,
			Progress: floatPtr(PercentAlias(progress)),
		})

	case provider.JobPreview:
		url := e.URL
		if url == "" {
			url = e.PreviewURL
		}
		s.emit(Event{Type: TypePreview, JobID: e.Job, URL: url})

	case provider.JobCompleted:
		s.jobs[e.Job] = domain.JobStatusCompleted
		url := s.resolveJobURL(e.Job, e.ResultURL)
		s.emit(Event{
			Type:     TypeJobCompleted,
			Event:    scopeJob,
			JobID:    e.Job,
			JobIndex: idx,
			Job: &JobResult{
				ID:             e.Job,
				Index:          idx,
				ResultURL:      url,
				PositivePrompt: e.PositivePrompt,
				ProxyURL:       ProxyPath(s.project.ID(), e.Job),
			},
		})
		if url != "" {
			s.emit(Event{Type: TypeFinal, JobID: e.Job, URL: url})
			s.emit(Event{Type: TypeResult, JobID: e.Job, URL: url})
		}

	case provider.JobError, provider.JobFailed:
		s.jobs[e.Job] = domain.JobStatusFailed
		msg := e.Error
		if msg == "" {
			msg = defaultJobFailure
		}
		s.emit(Event{Type: TypeJobFailed, Event: scopeJob, JobID: e.Job, JobIndex: idx, Error: msg})
	}
}

func (s *session) handleProject(e *provider.ProjectEvent) {
	switch e.Type {
	case provider.ProjectUploadProgress:
		s.emit(Event{Type: TypeUploadProgress, Progress: floatPtr(NormalizeProgress(e.Progress))})

	case provider.ProjectUploadComplete:
		s.emit(Event{Type: TypeUploadComplete})

	case provider.ProjectCompleted:
		if results := s.collectResults(); len(results) > 0 {
			s.emit(Event{Type: TypeResults, Results: results})
		}
		s.terminal = true
		s.emit(Event{Type: TypeCompleted})

	case provider.ProjectError, provider.ProjectFailed:
		msg := e.Error
		if msg == "" {
			msg = defaultProjectFailure
		}
		s.fail(msg)
	}
}

func lifecycleStatus(t provider.JobEventType) domain.JobStatus {
	switch t {
	case provider.JobQueued:
		return domain.JobStatusQueued
	case provider.JobInitiating:
		return domain.JobStatusInitiating
	default:
		return domain.JobStatusStarted
	}
}

// fail emits the single project-level failure.
func (s *session) fail(msg string) {
	if s.terminal {
		return
	}
	s.terminal = true
	s.emit(Event{Type: TypeFailed, Error: msg})
}

// resolveJobURL prefers the URL on the event, then a freshly signed one, then
// the last one seen for the job.
func (s *session) resolveJobURL(jobID, fromEvent string) string {
	if fromEvent != "" {
		s.project.RememberResultURL(jobID, fromEvent)
		return fromEvent
	}
	ctx, cancel := s.lookupContext()
	defer cancel()
	return s.svc.freshOrCachedURL(ctx, s.project, jobID)
}

// collectResults gathers every job's URL in job order. A failed lookup for one
// job only loses that job; if nothing resolves the cached snapshot is used.
func (s *session) collectResults() []string {
	jobs := s.project.Jobs()
	urls := make([]string, len(jobs))

	ctx, cancel := s.lookupContext()
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resultLookupWorkers)
	for i, job := range jobs {
		g.Go(func() error {
			urls[i] = s.svc.freshOrCachedURL(gctx, s.project, job.ID)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]string, 0, len(urls))
	for _, url := range urls {
		if url != "" {
			out = append(out, url)
		}
	}
	if len(out) == 0 {
		return s.project.ResultURLs()
	}
	return out
}
