package relay

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"inkrelay/internal/domain"
	"inkrelay/internal/metrics"
	"inkrelay/internal/provider"
)

// ResultCacheControl is applied to proxied result bytes.
const ResultCacheControl = "private, max-age=600"

// ResultStream is an open upstream image body ready to be copied to a client.
type ResultStream struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
}

// ResolveResultURL returns a usable signed URL for a job of a tracked project.
func (s *Service) ResolveResultURL(ctx context.Context, projectID, jobID string) (string, error) {
	project, ok := s.registry.Project(projectID)
	if !ok {
		return "", domain.ErrProjectNotTracked
	}
	url := s.freshOrCachedURL(ctx, project, jobID)
	if url == "" {
		return "", domain.ErrResultUnavailable
	}
	return url, nil
}

// OpenResult resolves the job's URL and opens the upstream body. The caller
// must close Body.
func (s *Service) OpenResult(ctx context.Context, projectID, jobID string) (*ResultStream, error) {
	url, err := s.ResolveResultURL(ctx, projectID, jobID)
	if err != nil {
		metrics.ResultProxyTotal.WithLabelValues("not_found").Inc()
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		metrics.ResultProxyTotal.WithLabelValues("bad_gateway").Inc()
		return nil, fmt.Errorf("%w: build request: %w", domain.ErrUpstreamFetch, err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		metrics.ResultProxyTotal.WithLabelValues("bad_gateway").Inc()
		return nil, fmt.Errorf("%w: %w", domain.ErrUpstreamFetch, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices || resp.Body == nil || resp.Body == http.NoBody {
		if resp.Body != nil {
			resp.Body.Close()
		}
		metrics.ResultProxyTotal.WithLabelValues("bad_gateway").Inc()
		return nil, fmt.Errorf("%w: upstream status %d", domain.ErrUpstreamFetch, resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	metrics.ResultProxyTotal.WithLabelValues("ok").Inc()
	return &ResultStream{Body: resp.Body, ContentType: contentType, ContentLength: resp.ContentLength}, nil
}

func (s *Service) freshOrCachedURL(ctx context.Context, project *provider.Project, jobID string) string {
	url, err := project.JobResultURL(ctx, jobID)
	if err == nil && url != "" {
		return url
	}
	s.reportBackground(project.ID(), "job_result_url", err)
	return project.CachedResultURL(jobID)
}
