package channel

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Frame is one inbound message from the streaming persona. A frame either
// continues the dialogue (status "incomplete", follow-up attached) or ends it
// (any other status, guidance attached); the transcript rides along on both.
type Frame struct {
	Status           string              `json:"status"`
	History          []TranscriptMessage `json:"history,omitempty"`
	FollowupQuestion string              `json:"followup_question,omitempty"`
	Guidance         string              `json:"guidance,omitempty"`
	Message          string              `json:"message,omitempty"`
}

// Stream is the duplex persona channel: a long-lived WebSocket that accepts
// any number of outbound messages and delivers inbound frames to the handler
// until either side closes it.
type Stream struct {
	conn *websocket.Conn
	log  *logrus.Entry

	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
	explicit  atomic.Bool

	onFrame func(Frame)
	onClose func(error)
}

// WSURL converts a service base URL to its WebSocket equivalent.
func WSURL(base, path string) string {
	u := strings.TrimSuffix(base, "/")
	if strings.HasPrefix(u, "https://") {
		u = "wss://" + u[8:]
	} else if strings.HasPrefix(u, "http://") {
		u = "ws://" + u[7:]
	}
	return u + path
}

// DialStream opens the duplex channel, authenticating with the token as a
// query parameter the way the service expects at connection time. Frames are
// delivered to onFrame from a reader goroutine; onClose fires exactly once
// when the channel dies, with nil error for an explicit Close.
func DialStream(ctx context.Context, rawURL, token string, onFrame func(Frame), onClose func(error)) (*Stream, error) {
	u := rawURL
	if token != "" {
		u = fmt.Sprintf("%s?token=%s", rawURL, url.QueryEscape(token))
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == 401 || resp.StatusCode == 403) {
			return nil, fmt.Errorf("%w: authentication rejected (%d)", ErrConnection, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	s := &Stream{
		conn:    conn,
		log:     logrus.WithField("component", "stream"),
		done:    make(chan struct{}),
		onFrame: onFrame,
		onClose: onClose,
	}

	go s.readLoop()
	return s, nil
}

// Send writes one outbound message frame.
func (s *Stream) Send(message string) error {
	select {
	case <-s.done:
		return fmt.Errorf("%w: stream is closed", ErrConnection)
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(map[string]string{"message": message}); err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return nil
}

// Open reports whether the channel is still usable.
func (s *Stream) Open() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Close tears the channel down. Safe to call multiple times and from multiple
// triggers: explicit reset, shutdown, or a transport error.
func (s *Stream) Close() {
	s.explicit.Store(true)
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

func (s *Stream) readLoop() {
	for {
		var frame Frame
		if err := s.conn.ReadJSON(&frame); err != nil {
			s.closeOnce.Do(func() {
				close(s.done)
				s.conn.Close()
			})
			if s.onClose != nil {
				if s.explicit.Load() {
					s.onClose(nil)
				} else {
					s.log.WithError(err).Debug("stream closed by transport")
					s.onClose(fmt.Errorf("%w: %v", ErrConnection, err))
				}
			}
			return
		}
		if s.onFrame != nil {
			s.onFrame(frame)
		}
	}
}
