package orchestration

import (
	"context"
	"errors"
	"time"

	"github.com/koscakluka/ema-voice/core/channel"
)

// capture moves microphone chunks into the capture buffer while
// push-to-talk is held. Chunks captured while not talking are discarded.
func (s *session) capture(ctx context.Context) error {
	for chunk := range s.source.Chunks(ctx) {
		if !s.talking.Load() {
			continue
		}
		s.buffer.Push(chunk)
	}
	return nil
}

// handOffUplink gives the uplink worker the connection to send on. A nil
// conn pauses sending; chunks keep accumulating in the capture buffer.
func (s *session) handOffUplink(conn channel.Conn) {
	select {
	case <-s.uplinkConn:
	default:
	}
	s.uplinkConn <- conn
}

// uplink sends buffered chunks in capture order. A chunk that could not be
// sent goes back to the head of the buffer and is retried.
func (s *session) uplink(ctx context.Context) error {
	var conn channel.Conn
	retry := time.NewTimer(time.Hour)
	retry.Stop()
	defer retry.Stop()

	for {
		if conn != nil {
			switch err := s.flush(conn); {
			case err == nil:
			case errors.Is(err, channel.ErrSendQueueFull):
				retry.Reset(uplinkRetryDelay)
			default:
				logger.Warn("failed to send audio, pausing uplink", "session_id", s.id, "error", err)
				conn = nil
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case conn = <-s.uplinkConn:
		case <-s.buffer.Notify():
		case <-retry.C:
		}
	}
}

func (s *session) flush(conn channel.Conn) error {
	s.uplinkMu.Lock()
	defer s.uplinkMu.Unlock()

	for {
		chunk, ok := s.buffer.Shift()
		if !ok {
			return nil
		}
		if err := conn.Send(chunk); err != nil {
			s.buffer.PushFront(chunk)
			return err
		}
	}
}
