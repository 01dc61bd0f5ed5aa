package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"inkrelay/internal/domain"
	"inkrelay/internal/infra"
	"inkrelay/internal/metrics"
	"inkrelay/internal/provider"
)

const (
	defaultResultRetention = 30 * time.Minute
	defaultProjectTimeout  = 15 * time.Minute
	defaultLookupTimeout   = 15 * time.Second
)

// Upstream is the provider surface the relay drives.
type Upstream interface {
	CreateProject(ctx context.Context, params provider.ProjectParams) (*provider.Project, error)
	Subscribe(projectID string, h provider.Handler) *provider.Subscription
}

// projectCanceller is implemented by upstreams with a direct cancel API.
type projectCanceller interface {
	CancelProject(ctx context.Context, projectID string) error
}

// Connector builds the shared upstream. It runs at most once successfully.
type Connector func(ctx context.Context) (Upstream, error)

// Options configures a Service.
type Options struct {
	Connect           Connector
	Logger            *infra.Logger
	HTTPClient        *http.Client
	HeartbeatInterval time.Duration
	ResultRetention   time.Duration
	ProjectTimeout    time.Duration
	LookupTimeout     time.Duration
}

// GenerateResult is returned to the client right after project creation.
type GenerateResult struct {
	ProjectID string          `json:"projectId"`
	Jobs      []domain.JobRef `json:"jobs"`
}

// Service owns the session registry, the broadcast channel and the lazily
// constructed upstream shared by every project.
type Service struct {
	connect         Connector
	connectGroup    singleflight.Group
	logger          *infra.Logger
	httpClient      *http.Client
	registry        *Registry
	broadcaster     *Broadcaster
	resultRetention time.Duration
	projectTimeout  time.Duration
	lookupTimeout   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	upstream  Upstream
	sessions  map[string]*session
	retention map[string]*time.Timer
	closed    bool
}

// NewService wires a relay service.
func NewService(opts Options) (*Service, error) {
	if opts.Connect == nil {
		return nil, errors.New("relay: upstream connector is required")
	}
	logger := infra.LoggerOrDiscard(opts.Logger)
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	retention := opts.ResultRetention
	if retention <= 0 {
		retention = defaultResultRetention
	}
	timeout := opts.ProjectTimeout
	if timeout <= 0 {
		timeout = defaultProjectTimeout
	}
	lookup := opts.LookupTimeout
	if lookup <= 0 {
		lookup = defaultLookupTimeout
	}
	registry := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		connect:         opts.Connect,
		logger:          logger,
		httpClient:      httpClient,
		registry:        registry,
		broadcaster:     NewBroadcaster(registry, opts.HeartbeatInterval, logger),
		resultRetention: retention,
		projectTimeout:  timeout,
		lookupTimeout:   lookup,
		ctx:             ctx,
		cancel:          cancel,
		sessions:        make(map[string]*session),
		retention:       make(map[string]*time.Timer),
	}, nil
}

// Registry exposes the session registry.
func (s *Service) Registry() *Registry { return s.registry }

// Generate validates req, creates the provider project and starts relaying
// its events. It returns as soon as the provider has assigned the project id.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, domain.ErrMissingPrompt
	}
	up, err := s.upstreamClient(ctx)
	if err != nil {
		metrics.GenerationsTotal.WithLabelValues("upstream_unavailable").Inc()
		return nil, fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, err)
	}

	params := BuildParams(req)
	project, err := up.CreateProject(ctx, params)
	if provider.IsProjectNotFound(err) {
		s.logger.Warn().Err(err).Msg("relay: project-not-found race on create, retrying once")
		project, err = up.CreateProject(ctx, params)
	}
	if err != nil {
		outcome := "error"
		if provider.IsProjectNotFound(err) {
			outcome = "retry"
		}
		metrics.GenerationsTotal.WithLabelValues(outcome).Inc()
		return nil, err
	}

	if err := s.startSession(up, project); err != nil {
		metrics.GenerationsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.GenerationsTotal.WithLabelValues("created").Inc()

	s.logger.Info().
		Str("project_id", project.ID()).
		Int("jobs", len(project.Jobs())).
		Msg("relay: project created")
	return &GenerateResult{ProjectID: project.ID(), Jobs: project.Jobs()}, nil
}

// Stream serves the SSE stream of projectID on w until ctx ends.
func (s *Service) Stream(ctx context.Context, w http.ResponseWriter, projectID string) error {
	return s.broadcaster.Stream(ctx, w, projectID)
}

// Cancel forwards a cancel to the provider and releases the project handle.
// Events already in flight for the project may still be relayed.
func (s *Service) Cancel(ctx context.Context, projectID string) error {
	project, tracked := s.registry.Project(projectID)

	var err error
	s.mu.Lock()
	up := s.upstream
	s.mu.Unlock()
	if c, ok := up.(projectCanceller); ok {
		err = c.CancelProject(ctx, projectID)
	} else if tracked {
		err = project.Cancel(ctx)
	}
	if err != nil && !provider.IsProjectNotFound(err) {
		return err
	}
	s.registry.ReleaseProject(projectID)
	s.logger.Info().Str("project_id", projectID).Bool("tracked", tracked).Msg("relay: project cancelled")
	return nil
}

// Close stops every session, pending releases and the upstream.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	for id, timer := range s.retention {
		timer.Stop()
		delete(s.retention, id)
	}
	up := s.upstream
	s.mu.Unlock()

	s.cancel()
	for _, sess := range sessions {
		sess.finish(0)
	}
	s.wg.Wait()

	if closer, ok := up.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (s *Service) upstreamClient(ctx context.Context) (Upstream, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.New("relay: service closed")
	}
	if s.upstream != nil {
		up := s.upstream
		s.mu.Unlock()
		return up, nil
	}
	s.mu.Unlock()

	v, err, _ := s.connectGroup.Do("upstream", func() (any, error) {
		s.mu.Lock()
		if s.upstream != nil {
			up := s.upstream
			s.mu.Unlock()
			return up, nil
		}
		s.mu.Unlock()
		up, err := s.connect(ctx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.upstream = up
		s.mu.Unlock()
		return up, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Upstream), nil
}

func (s *Service) startSession(up Upstream, project *provider.Project) error {
	sess := newSession(s, project)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("relay: service closed")
	}
	s.sessions[project.ID()] = sess
	s.mu.Unlock()

	s.registry.TrackProject(project)
	sess.attach(up)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sess.run(s.projectTimeout)
	}()
	return nil
}

// endSession is called once per session after its upstream listener is gone.
func (s *Service) endSession(projectID string, retain time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, projectID)
	if retain <= 0 || s.closed {
		s.registry.ReleaseProject(projectID)
		return
	}
	if old, ok := s.retention[projectID]; ok {
		old.Stop()
	}
	s.retention[projectID] = time.AfterFunc(retain, func() {
		s.mu.Lock()
		delete(s.retention, projectID)
		s.mu.Unlock()
		s.registry.ReleaseProject(projectID)
	})
}

// reportBackground logs a failure that happened after the HTTP response for
// the project was sent. The known project-not-found noise stays at debug.
func (s *Service) reportBackground(projectID, op string, err error) {
	if err == nil {
		return
	}
	if provider.IsProjectNotFound(err) || errors.Is(err, context.Canceled) {
		s.logger.Debug().Err(err).Str("project_id", projectID).Str("op", op).Msg("relay: ignoring benign background error")
		return
	}
	s.logger.Error().Err(err).Str("project_id", projectID).Str("op", op).Msg("relay: background failure")
}
