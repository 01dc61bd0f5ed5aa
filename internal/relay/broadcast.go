package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"inkrelay/internal/infra"
	"inkrelay/internal/metrics"
)

// DefaultHeartbeat keeps intermediary proxies from closing idle streams.
const DefaultHeartbeat = 20 * time.Second

const subscriberBuffer = 64

var heartbeatFrame = []byte(":\n\n")

// Subscriber is one live SSE connection scoped to a project.
type Subscriber struct {
	projectID string
	frames    chan []byte
}

func newSubscriber(projectID string, buffer int) *Subscriber {
	return &Subscriber{projectID: projectID, frames: make(chan []byte, buffer)}
}

// offer queues frame without blocking; false means the client is not keeping up.
func (s *Subscriber) offer(frame []byte) bool {
	select {
	case s.frames <- frame:
		return true
	default:
		return false
	}
}

// force queues frame, discarding the oldest queued frames until it fits. It
// returns how many frames were discarded. Each project has a single emitting
// goroutine, so a freed slot cannot be taken by another sender.
func (s *Subscriber) force(frame []byte) int {
	evicted := 0
	for {
		select {
		case s.frames <- frame:
			return evicted
		default:
		}
		select {
		case <-s.frames:
			evicted++
		default:
		}
	}
}

// isTerminal reports whether ev ends the project's stream.
func isTerminal(ev Event) bool {
	return ev.Type == TypeCompleted || ev.Type == TypeFailed
}

// Broadcaster fans normalized events out to every subscriber of a project.
type Broadcaster struct {
	registry  *Registry
	heartbeat time.Duration
	logger    *infra.Logger
}

func NewBroadcaster(registry *Registry, heartbeat time.Duration, logger *infra.Logger) *Broadcaster {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &Broadcaster{registry: registry, heartbeat: heartbeat, logger: infra.LoggerOrDiscard(logger)}
}

// Emit stamps ev with projectID and queues it for every current subscriber.
// A subscriber that cannot take the frame is skipped; the others still get it.
// Terminal frames are never skipped: older frames make room for them.
func (b *Broadcaster) Emit(projectID string, ev Event) {
	ev.ProjectID = projectID
	frame, err := encodeFrame(ev)
	if err != nil {
		b.logger.Error().Err(err).Str("project_id", projectID).Str("type", ev.Type).Msg("relay: encode event")
		return
	}
	metrics.EventsEmittedTotal.WithLabelValues(ev.Type).Inc()
	terminal := isTerminal(ev)
	for _, sub := range b.registry.Subscribers(projectID) {
		if terminal {
			if n := sub.force(frame); n > 0 {
				metrics.FramesDroppedTotal.Add(float64(n))
				b.logger.Warn().Str("project_id", projectID).Int("evicted", n).Msg("relay: subscriber buffer full, evicted frames for terminal event")
			}
			continue
		}
		if !sub.offer(frame) {
			metrics.FramesDroppedTotal.Inc()
			b.logger.Warn().Str("project_id", projectID).Str("type", ev.Type).Msg("relay: subscriber buffer full, frame dropped")
		}
	}
}

// Stream registers the caller as a subscriber of projectID and writes frames
// to w until ctx ends or a write fails. The first frame is always the
// synthetic connected event. Headers must already be set by the caller.
func (b *Broadcaster) Stream(ctx context.Context, w http.ResponseWriter, projectID string) error {
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}

	sub := newSubscriber(projectID, subscriberBuffer)
	b.registry.Register(projectID, sub)
	defer b.registry.Unregister(projectID, sub)

	connected, err := encodeFrame(Event{Type: TypeConnected, ProjectID: projectID})
	if err != nil {
		return err
	}
	if err := writeFrame(w, rc, connected); err != nil {
		return err
	}

	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case frame := <-sub.frames:
			if err := writeFrame(w, rc, frame); err != nil {
				return err
			}
		case <-ticker.C:
			if err := writeFrame(w, rc, heartbeatFrame); err != nil {
				return err
			}
		}
	}
}

func encodeFrame(ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 0, len(payload)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, payload...)
	frame = append(frame, '\n', '\n')
	return frame, nil
}

func writeFrame(w io.Writer, rc *http.ResponseController, frame []byte) error {
	if _, err := w.Write(frame); err != nil {
		return err
	}
	if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}
