package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"inkrelay/internal/provider"
)

type fakeBackend struct {
	mu        sync.Mutex
	urls      map[string]string
	errs      map[string]error
	stalled   map[string]bool
	cancelErr error
	cancelled []string
}

func (b *fakeBackend) JobResultURL(ctx context.Context, _ string, jobID string) (string, error) {
	b.mu.Lock()
	stalled := b.stalled[jobID]
	b.mu.Unlock()
	if stalled {
		<-ctx.Done()
		return "", ctx.Err()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.errs[jobID]; err != nil {
		return "", err
	}
	return b.urls[jobID], nil
}

// stall makes lookups for jobID hang until their context ends.
func (b *fakeBackend) stall(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stalled == nil {
		b.stalled = make(map[string]bool)
	}
	b.stalled[jobID] = true
}

func (b *fakeBackend) CancelProject(_ context.Context, projectID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelled = append(b.cancelled, projectID)
	return b.cancelErr
}

func (b *fakeBackend) setURL(jobID, url string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.urls == nil {
		b.urls = make(map[string]string)
	}
	b.urls[jobID] = url
}

func (b *fakeBackend) setErr(jobID string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.errs == nil {
		b.errs = make(map[string]error)
	}
	b.errs[jobID] = err
}

// fakeUpstream creates projects in memory and lets tests publish events.
type fakeUpstream struct {
	provider.Bus

	backend    *fakeBackend
	projectID  string
	projectIDs []string
	jobIDs     []string

	mu         sync.Mutex
	createErrs []error
	creates    int
	lastParams provider.ProjectParams
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		backend:   &fakeBackend{},
		projectID: "p1",
		jobIDs:    []string{"j-a", "j-b"},
	}
}

func (f *fakeUpstream) CreateProject(_ context.Context, params provider.ProjectParams) (*provider.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	f.lastParams = params
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		return nil, err
	}
	id := f.projectID
	if len(f.projectIDs) > 0 {
		id = f.projectIDs[0]
		f.projectIDs = f.projectIDs[1:]
	}
	return provider.NewProject(id, f.jobIDs, f.backend), nil
}

func (f *fakeUpstream) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates
}

// cancellingUpstream also exposes the provider's direct cancel API.
type cancellingUpstream struct {
	*fakeUpstream
	cancelled []string
	err       error
}

func (c *cancellingUpstream) CancelProject(_ context.Context, projectID string) error {
	c.cancelled = append(c.cancelled, projectID)
	return c.err
}

var errNotFound = &provider.APIError{Status: http.StatusNotFound, Code: 102, Message: "Project not found"}

func newTestService(t *testing.T, up Upstream, mutate ...func(*Options)) *Service {
	t.Helper()
	opts := Options{
		Connect:           func(context.Context) (Upstream, error) { return up, nil },
		HeartbeatInterval: time.Hour,
		LookupTimeout:     time.Second,
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	svc, err := NewService(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

// streamClient reads SSE frames from a live stream. Data frames are delivered
// as their JSON payload, comment frames as ":".
type streamClient struct {
	frames chan string
	cancel context.CancelFunc
}

func openStream(t *testing.T, svc *Service, projectID string) *streamClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_ = svc.Stream(r.Context(), w, projectID)
	}))
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	sc := &streamClient{frames: make(chan string, 64), cancel: cancel}
	go func() {
		defer close(sc.frames)
		reader := bufio.NewReader(resp.Body)
		var buf strings.Builder
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\n")
			if line == "" {
				frame := buf.String()
				buf.Reset()
				switch {
				case strings.HasPrefix(frame, "data: "):
					sc.frames <- strings.TrimPrefix(frame, "data: ")
				case strings.HasPrefix(frame, ":"):
					sc.frames <- ":"
				}
				continue
			}
			buf.WriteString(line)
		}
	}()
	t.Cleanup(func() {
		cancel()
		resp.Body.Close()
		srv.Close()
	})

	first := sc.next(t)
	require.JSONEq(t, `{"type":"connected","projectId":"`+projectID+`"}`, first)
	require.Eventually(t, func() bool { return svc.Registry().HasSubscribers(projectID) }, time.Second, 5*time.Millisecond)
	return sc
}

func (sc *streamClient) next(t *testing.T) string {
	t.Helper()
	select {
	case frame, ok := <-sc.frames:
		if !ok {
			t.Fatalf("stream closed")
		}
		return frame
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for frame")
		return ""
	}
}

func (sc *streamClient) nextEvent(t *testing.T) Event {
	t.Helper()
	var ev Event
	raw := sc.next(t)
	require.NoError(t, json.Unmarshal([]byte(raw), &ev), raw)
	return ev
}

func (sc *streamClient) expectQuiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case frame, ok := <-sc.frames:
		if ok {
			t.Fatalf("unexpected frame: %s", frame)
		}
	case <-time.After(d):
	}
}

var errBoom = errors.New("boom")
