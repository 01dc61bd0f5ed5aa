package relay

import (
	"context"
	"sync"
	"time"

	"inkrelay/internal/domain"
	"inkrelay/internal/provider"
)

// session relays the upstream events of one project. Events are handled one
// at a time on the session goroutine, in arrival order. The queue is unbounded
// so the shared upstream publisher never waits on a slow project.
type session struct {
	svc     *Service
	project *provider.Project
	index   map[string]int

	qmu     sync.Mutex
	pending []provider.Event
	wake    chan struct{}
	done    chan struct{}

	subMu sync.Mutex
	sub   *provider.Subscription
	once  sync.Once

	// owned by the run goroutine
	terminal bool
	jobs     map[string]domain.JobStatus
}

func newSession(svc *Service, project *provider.Project) *session {
	index := make(map[string]int)
	for _, job := range project.Jobs() {
		index[job.ID] = job.Index
	}
	return &session{
		svc:     svc,
		project: project,
		index:   index,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		jobs:    make(map[string]domain.JobStatus),
	}
}

func (s *session) attach(up Upstream) {
	sub := up.Subscribe(s.project.ID(), s.enqueue)
	s.subMu.Lock()
	s.sub = sub
	s.subMu.Unlock()
}

// enqueue never blocks.
func (s *session) enqueue(ev provider.Event) {
	select {
	case <-s.done:
		return
	default:
	}
	s.qmu.Lock()
	s.pending = append(s.pending, ev)
	s.qmu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *session) drain() []provider.Event {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	batch := s.pending
	s.pending = nil
	return batch
}

func (s *session) run(timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
			for _, ev := range s.drain() {
				s.handle(ev)
				if s.terminal {
					s.finish(s.svc.resultRetention)
					return
				}
			}
		case <-timer.C:
			s.fail("Project timed out")
			s.finish(s.svc.resultRetention)
			return
		}
	}
}

// finish detaches the upstream listener exactly once and hands the project
// handle back to the service for release after retain.
func (s *session) finish(retain time.Duration) {
	s.once.Do(func() {
		s.subMu.Lock()
		sub := s.sub
		s.subMu.Unlock()
		sub.Detach()
		close(s.done)
		s.qmu.Lock()
		s.pending = nil
		s.qmu.Unlock()
		s.svc.endSession(s.project.ID(), retain)
	})
}

func (s *session) emit(ev Event) {
	s.svc.broadcaster.Emit(s.project.ID(), ev)
}

func (s *session) jobIndex(jobID string) *int {
	idx, ok := s.index[jobID]
	if !ok {
		return nil
	}
	return &idx
}

func (s *session) lookupContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.svc.ctx, s.svc.lookupTimeout)
}
