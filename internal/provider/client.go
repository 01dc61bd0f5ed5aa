package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"inkrelay/internal/infra"
)

// ErrMissingCredentials indicates that the client was configured without an account.
var ErrMissingCredentials = errors.New("provider: username and password are required")

// Options configures the provider client.
type Options struct {
	Endpoints      Endpoints
	Username       string
	Password       string
	AppID          string
	HTTPClient     *http.Client
	Dialer         *websocket.Dialer
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client talks to the generation provider: REST for commands and a websocket
// for the asynchronous lifecycle events, which it republishes on its Bus.
type Client struct {
	restURL    string
	socketURL  string
	username   string
	password   string
	appID      string
	httpClient *http.Client
	dialer     *websocket.Dialer
	logger     *infra.Logger

	bus Bus

	mu    sync.Mutex
	token string
	conn  *websocket.Conn
}

type envelope struct {
	Status    string          `json:"status"`
	ErrorCode int             `json:"errorCode"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	AppID    string `json:"appId"`
}

type loginResponse struct {
	Token string `json:"token"`
}

type createProjectResponse struct {
	ProjectID string `json:"projectId"`
	Jobs      []struct {
		ID string `json:"id"`
	} `json:"jobs"`
}

type resultURLResponse struct {
	URL string `json:"url"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
// No network traffic happens until Connect or the first command.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.Username) == "" || opts.Password == "" {
		return nil, ErrMissingCredentials
	}
	if strings.TrimSpace(opts.Endpoints.REST) == "" || strings.TrimSpace(opts.Endpoints.Socket) == "" {
		return nil, errors.New("provider: rest and socket endpoints are required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	return &Client{
		restURL:    strings.TrimRight(opts.Endpoints.REST, "/"),
		socketURL:  opts.Endpoints.Socket,
		username:   strings.TrimSpace(opts.Username),
		password:   opts.Password,
		appID:      strings.TrimSpace(opts.AppID),
		httpClient: httpClient,
		dialer:     dialer,
		logger:     infra.LoggerOrDiscard(opts.Logger),
	}, nil
}

// Connect logs in and opens the event socket if it is not open already.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}

	if c.token == "" {
		var out loginResponse
		err := c.do(ctx, http.MethodPost, "/v1/account/login", "", loginRequest{
			Username: c.username,
			Password: c.password,
			AppID:    c.appID,
		}, &out)
		switch {
		case err == nil:
			c.token = out.Token
		case IsProjectNotFound(err):
			c.logger.Debug().Err(err).Msg("provider: ignoring project-not-found during login")
		default:
			return fmt.Errorf("provider: login: %w", err)
		}
	}

	socket, err := url.Parse(c.socketURL)
	if err != nil {
		return fmt.Errorf("provider: parse socket url: %w", err)
	}
	q := socket.Query()
	q.Set("appId", c.appID)
	socket.RawQuery = q.Encode()

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, resp, err := c.dialer.DialContext(ctx, socket.String(), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("provider: dial socket: %w", err)
	}
	c.conn = conn
	go c.readLoop(conn)

	c.logger.Info().Str("socket", c.socketURL).Msg("provider: event socket connected")
	return nil
}

// Close drops the event socket. A later command reconnects.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Subscribe attaches h to the events of projectID.
func (c *Client) Subscribe(projectID string, h Handler) *Subscription {
	return c.bus.Subscribe(projectID, h)
}

// CreateProject submits a render project and returns its live handle.
func (c *Client) CreateProject(ctx context.Context, params ProjectParams) (*Project, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	var out createProjectResponse
	if err := c.do(ctx, http.MethodPost, "/v1/projects", c.currentToken(), params, &out); err != nil {
		return nil, fmt.Errorf("provider: create project: %w", err)
	}
	if strings.TrimSpace(out.ProjectID) == "" {
		return nil, errors.New("provider: create project: empty project id")
	}
	jobIDs := make([]string, 0, len(out.Jobs))
	for _, job := range out.Jobs {
		jobIDs = append(jobIDs, job.ID)
	}
	c.logger.Debug().
		Str("project_id", out.ProjectID).
		Int("jobs", len(jobIDs)).
		Str("model", params.ModelID).
		Msg("provider: project created")
	return NewProject(out.ProjectID, jobIDs, c), nil
}

// JobResultURL fetches a freshly signed download URL for one job.
func (c *Client) JobResultURL(ctx context.Context, projectID, jobID string) (string, error) {
	var out resultURLResponse
	path := fmt.Sprintf("/v1/projects/%s/jobs/%s/result", url.PathEscape(projectID), url.PathEscape(jobID))
	if err := c.do(ctx, http.MethodGet, path, c.currentToken(), nil, &out); err != nil {
		return "", fmt.Errorf("provider: job result url: %w", err)
	}
	return strings.TrimSpace(out.URL), nil
}

// CancelProject asks the provider to stop all jobs of projectID.
func (c *Client) CancelProject(ctx context.Context, projectID string) error {
	path := fmt.Sprintf("/v1/projects/%s/cancel", url.PathEscape(projectID))
	if err := c.do(ctx, http.MethodPost, path, c.currentToken(), nil, nil); err != nil {
		return fmt.Errorf("provider: cancel project: %w", err)
	}
	return nil
}

func (c *Client) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !errors.Is(err, net.ErrClosed) {
				c.logger.Warn().Err(err).Msg("provider: event socket closed")
			}
			return
		}
		ev, err := DecodeMessage(data)
		if err != nil {
			c.logger.Debug().Err(err).Msg("provider: dropping socket message")
			continue
		}
		c.bus.Publish(ev)
	}
}

func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.restURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("X-App-Id", c.appID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)
	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if decodeErr == nil {
			apiErr.Code = env.ErrorCode
			apiErr.Message = env.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if decodeErr != nil {
		return fmt.Errorf("decode response: %w", decodeErr)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}
