package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"inkrelay/internal/domain"
	"inkrelay/internal/provider"
)

func TestGenerateRejectsMissingPrompt(t *testing.T) {
	var connects atomic.Int32
	svc, err := NewService(Options{Connect: func(context.Context) (Upstream, error) {
		connects.Add(1)
		return newFakeUpstream(), nil
	}})
	require.NoError(t, err)
	defer svc.Close()

	_, err = svc.Generate(context.Background(), GenerateRequest{Prompt: "   "})
	require.ErrorIs(t, err, domain.ErrMissingPrompt)
	require.Equal(t, int32(0), connects.Load())
}

func TestGenerateReturnsSequentialJobIndexes(t *testing.T) {
	up := newFakeUpstream()
	up.jobIDs = []string{"j-a", "j-b", "j-c", "j-d"}
	svc := newTestService(t, up)

	res, err := svc.Generate(context.Background(), GenerateRequest{Prompt: "koi fish", Style: "neo traditional"})
	require.NoError(t, err)
	require.Equal(t, "p1", res.ProjectID)
	require.Len(t, res.Jobs, 4)
	for i, job := range res.Jobs {
		require.Equal(t, i, job.Index)
	}
	require.Equal(t, "koi fish", up.lastParams.PositivePrompt)
	require.Equal(t, "Neo Traditional", up.lastParams.StylePrompt)

	_, tracked := svc.Registry().Project("p1")
	require.True(t, tracked)
	require.Equal(t, 1, up.Len("p1"))
}

func TestGenerateRetriesProjectNotFoundOnce(t *testing.T) {
	up := newFakeUpstream()
	up.createErrs = []error{errNotFound}
	svc := newTestService(t, up)

	res, err := svc.Generate(context.Background(), GenerateRequest{Prompt: "rose"})
	require.NoError(t, err)
	require.Equal(t, "p1", res.ProjectID)
	require.Equal(t, 2, up.createCount())

	up2 := newFakeUpstream()
	up2.createErrs = []error{errNotFound, errNotFound}
	svc2 := newTestService(t, up2)

	_, err = svc2.Generate(context.Background(), GenerateRequest{Prompt: "rose"})
	require.Error(t, err)
	require.True(t, provider.IsProjectNotFound(err))
	require.Equal(t, 2, up2.createCount())
}

func TestGenerateDoesNotRetryOtherErrors(t *testing.T) {
	up := newFakeUpstream()
	up.createErrs = []error{errBoom}
	svc := newTestService(t, up)

	_, err := svc.Generate(context.Background(), GenerateRequest{Prompt: "rose"})
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, 1, up.createCount())
}

func TestUpstreamIsConnectedOnce(t *testing.T) {
	var connects atomic.Int32
	up := newFakeUpstream()
	svc, err := NewService(Options{Connect: func(context.Context) (Upstream, error) {
		connects.Add(1)
		time.Sleep(20 * time.Millisecond)
		return up, nil
	}})
	require.NoError(t, err)
	defer svc.Close()

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.upstreamClient(context.Background())
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	_, err = svc.upstreamClient(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(1), connects.Load())
}

func TestUpstreamConnectFailureIsRetriedLater(t *testing.T) {
	var connects atomic.Int32
	up := newFakeUpstream()
	svc, err := NewService(Options{Connect: func(context.Context) (Upstream, error) {
		if connects.Add(1) == 1 {
			return nil, errBoom
		}
		return up, nil
	}})
	require.NoError(t, err)
	defer svc.Close()

	_, err = svc.Generate(context.Background(), GenerateRequest{Prompt: "rose"})
	require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	require.ErrorIs(t, err, errBoom)

	_, err = svc.Generate(context.Background(), GenerateRequest{Prompt: "rose"})
	require.NoError(t, err)
	require.Equal(t, int32(2), connects.Load())
}

func TestCancelPrefersProviderAPI(t *testing.T) {
	up := &cancellingUpstream{fakeUpstream: newFakeUpstream()}
	svc := newTestService(t, up)

	_, err := svc.Generate(context.Background(), GenerateRequest{Prompt: "rose"})
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(context.Background(), "p1"))
	require.Equal(t, []string{"p1"}, up.cancelled)
	require.Empty(t, up.backend.cancelled)
	_, tracked := svc.Registry().Project("p1")
	require.False(t, tracked)
}

func TestCancelFallsBackToProjectHandle(t *testing.T) {
	up := newFakeUpstream()
	svc := newTestService(t, up)

	_, err := svc.Generate(context.Background(), GenerateRequest{Prompt: "rose"})
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(context.Background(), "p1"))
	require.Equal(t, []string{"p1"}, up.backend.cancelled)
}

func TestCancelErrors(t *testing.T) {
	up := &cancellingUpstream{fakeUpstream: newFakeUpstream(), err: errNotFound}
	svc := newTestService(t, up)
	_, err := svc.Generate(context.Background(), GenerateRequest{Prompt: "rose"})
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(context.Background(), "p1"))

	up.err = errBoom
	require.ErrorIs(t, svc.Cancel(context.Background(), "p1"), errBoom)
}

func TestCancelStillRelaysInFlightEvents(t *testing.T) {
	up := newFakeUpstream()
	svc := newTestService(t, up)
	_, err := svc.Generate(context.Background(), GenerateRequest{Prompt: "rose"})
	require.NoError(t, err)
	stream := openStream(t, svc, "p1")

	require.NoError(t, svc.Cancel(context.Background(), "p1"))
	up.Publish(&provider.ProjectEvent{Type: provider.ProjectFailed, Project: "p1", Error: "cancelled"})

	ev := stream.nextEvent(t)
	require.Equal(t, TypeFailed, ev.Type)
	require.Equal(t, "cancelled", ev.Error)
	require.Eventually(t, func() bool { return up.Len("p1") == 0 }, time.Second, 5*time.Millisecond)
}

func TestCloseStopsSessionGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	up := newFakeUpstream()
	svc, err := NewService(Options{Connect: func(context.Context) (Upstream, error) { return up, nil }})
	require.NoError(t, err)

	_, err = svc.Generate(context.Background(), GenerateRequest{Prompt: "rose"})
	require.NoError(t, err)
	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close())

	require.Equal(t, 0, up.Len("p1"))
	_, tracked := svc.Registry().Project("p1")
	require.False(t, tracked)

	_, err = svc.Generate(context.Background(), GenerateRequest{Prompt: "rose"})
	require.Error(t, err)
	require.False(t, errors.Is(err, domain.ErrMissingPrompt))
}

func TestSlowProjectDoesNotStallOtherProjects(t *testing.T) {
	up := newFakeUpstream()
	up.projectIDs = []string{"slow", "fast"}
	up.backend.stall("j-a")
	svc := newTestService(t, up, func(o *Options) { o.LookupTimeout = 5 * time.Second })

	for i := 0; i < 2; i++ {
		_, err := svc.Generate(context.Background(), GenerateRequest{Prompt: "rose"})
		require.NoError(t, err)
	}
	fast := openStream(t, svc, "fast")

	published := make(chan struct{})
	go func() {
		defer close(published)
		up.Publish(&provider.JobEvent{Type: provider.JobCompleted, Project: "slow", Job: "j-a"})
		for i := 0; i < 200; i++ {
			up.Publish(&provider.JobEvent{Type: provider.JobProgress, Project: "slow", Job: "j-b", Progress: provider.Progress{Value: f64(float64(i % 100))}})
		}
		up.Publish(&provider.JobEvent{Type: provider.JobQueued, Project: "fast", Job: "j-a"})
	}()

	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatalf("publisher blocked behind a slow project")
	}
	start := time.Now()
	ev := fast.nextEvent(t)
	require.Equal(t, TypeQueued, ev.Type)
	require.Less(t, time.Since(start), time.Second)
}
