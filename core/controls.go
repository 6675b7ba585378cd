package orchestration

import "context"

// BeginTalk starts forwarding microphone audio. The engine keeps receiving
// assistant events either way; talk only gates the uplink.
func (e *Engine) BeginTalk() error {
	s, err := e.activeSession()
	if err != nil {
		return err
	}
	s.setTalking(true)
	return nil
}

func (e *Engine) EndTalk() error {
	s, err := e.activeSession()
	if err != nil {
		return err
	}
	s.setTalking(false)
	return nil
}

// IsTalking reports whether push-to-talk is held.
func (e *Engine) IsTalking() bool {
	s, err := e.activeSession()
	if err != nil {
		return false
	}
	return s.talking.Load()
}

// Interrupt discards queued assistant audio immediately. The assistant turn
// in progress is finalised as interrupted and the session goes back to
// listening. Interrupt returns after the control loop handled it.
func (e *Engine) Interrupt(ctx context.Context) error {
	s, err := e.activeSession()
	if err != nil {
		return err
	}
	return s.do(ctx, func() { s.interruptPlayback(false) })
}
