package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"inkrelay/internal/http/handlers"
	"inkrelay/internal/provider"
	"inkrelay/internal/relay"
)

type memoryBackend struct{}

func (memoryBackend) JobResultURL(context.Context, string, string) (string, error) { return "", nil }
func (memoryBackend) CancelProject(context.Context, string) error                 { return nil }

type memoryUpstream struct {
	provider.Bus
}

func (u *memoryUpstream) CreateProject(_ context.Context, params provider.ProjectParams) (*provider.Project, error) {
	ids := make([]string, params.NumberOfImages)
	for i := range ids {
		ids[i] = "job-" + string(rune('a'+i))
	}
	return provider.NewProject("proj-1", ids, memoryBackend{}), nil
}

func newTestServer(t *testing.T) (*httptest.Server, *memoryUpstream) {
	t.Helper()
	up := &memoryUpstream{}
	svc, err := relay.NewService(relay.Options{
		Connect:           func(context.Context) (relay.Upstream, error) { return up, nil },
		HeartbeatInterval: time.Hour,
	})
	require.NoError(t, err)
	app := handlers.NewApp(svc, "test", zerolog.Nop())
	srv := httptest.NewServer(NewRouter(app, []string{"http://localhost:5173"}, zerolog.Nop()))
	t.Cleanup(func() {
		srv.Close()
		_ = svc.Close()
	})
	return srv, up
}

func TestGenerateThenStream(t *testing.T) {
	srv, up := newTestServer(t)

	resp, err := http.Post(srv.URL+"/generate", "application/json", strings.NewReader(`{"prompt":"koi fish"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var created relay.GenerateResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.NotEmpty(t, created.ProjectID)
	require.Len(t, created.Jobs, relay.DefaultNumImages)
	for i, job := range created.Jobs {
		require.Equal(t, i, job.Index)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/progress/"+created.ProjectID, nil)
	require.NoError(t, err)
	stream, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer stream.Body.Close()
	require.Equal(t, "text/event-stream", stream.Header.Get("Content-Type"))

	reader := bufio.NewReader(stream.Body)
	readFrame := func() string {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		blank, err := reader.ReadString('\n')
		require.NoError(t, err)
		require.Equal(t, "\n", blank)
		return strings.TrimPrefix(strings.TrimSuffix(line, "\n"), "data: ")
	}
	require.JSONEq(t, `{"type":"connected","projectId":"proj-1"}`, readFrame())

	require.Eventually(t, func() bool { return up.Len("proj-1") == 1 }, time.Second, 5*time.Millisecond)
	progress := 45.0
	up.Publish(&provider.JobEvent{Type: provider.JobProgress, Project: "proj-1", Job: "job-a", Progress: provider.Progress{Value: &progress}})

	require.JSONEq(t, `{"type":"progress","event":"job","projectId":"proj-1","jobId":"job-a","jobIndex":0,"progress":0.45}`, readFrame())
	require.JSONEq(t, `{"type":"progress","projectId":"proj-1","jobId":"job-a","progress":45}`, readFrame())
}

func TestGenerateWithEmptyBody(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/generate", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, map[string]string{"error": "Missing prompt"}, body)
}

func TestResultForUnknownProject(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/result/never-created/job-a")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsAndCORS(t *testing.T) {
	srv, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
