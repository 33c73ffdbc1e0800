package session

import (
	"fmt"
	"time"

	"github.com/secondlife/leap/internal/observability"
	"github.com/secondlife/leap/internal/protocol/llsd"
)

// BuildRequest wraps payload for pump and advances the request counter.
//
// Unless initial, the payload gets reply (our reply pump, if not already set)
// and reqid (the counter value before this call). The initial listen request
// carries its own fields and gets neither.
func (s *Session) BuildRequest(pump string, payload llsd.Map, initial bool) Envelope {
	data := llsd.CloneMap(payload)

	s.mu.Lock()
	reqid := s.nextReqID
	s.nextReqID++
	reply := s.replyPump
	s.mu.Unlock()

	if !initial {
		if _, ok := data["reply"]; !ok {
			data["reply"] = reply
		}
		data["reqid"] = int(reqid)
	}
	return Envelope{Pump: pump, Data: data}
}

// BuildSet builds {command: "set", data: data}.
func (s *Session) BuildSet(pump string, data llsd.Map) Envelope {
	return s.BuildRequest(pump, llsd.Map{"command": CommandSet, "data": data}, false)
}

// BuildGet builds {command: "get", data: [...]}. A single value is sent as a
// one-element array.
func (s *Session) BuildGet(pump string, data any) Envelope {
	return s.BuildRequest(pump, llsd.Map{"command": CommandGet, "data": llsd.ToArray(data)}, false)
}

// Send encodes env and writes it as one frame. Requests carrying our reply
// pump and a reqid are tracked until a reply with that reqid arrives.
func (s *Session) Send(env Envelope) error {
	if s.State() == StateStopped {
		return ErrStopped
	}
	payload, err := env.Encode()
	if err != nil {
		return fmt.Errorf("session: encode envelope for %q: %w", env.Pump, err)
	}
	if err := s.stream.Write(payload); err != nil {
		return fmt.Errorf("session: write frame: %w", err)
	}
	observability.RecordFrame("write", len(payload))
	observability.RecordRequest(env.Pump)

	if reqid, ok := env.ReqID(); ok && s.repliesToUs(env) {
		s.pending.Add(PendingRequest{ReqID: reqid, Pump: env.Pump, SentAt: time.Now()})
		observability.SetPendingRequests(s.pending.Len())
	}
	s.logger.Debug().Str("pump", env.Pump).Int("bytes", len(payload)).Msg("sent")
	return nil
}

func (s *Session) repliesToUs(env Envelope) bool {
	reply, ok := llsd.Lookup(env.Data, "reply")
	if !ok {
		return false
	}
	mine := s.ReplyPump()
	return mine != "" && llsd.AsString(reply) == mine
}

// Request builds and sends a request to pump. The session must be started.
func (s *Session) Request(pump string, payload llsd.Map) error {
	if err := s.requireRunning(); err != nil {
		return err
	}
	return s.Send(s.BuildRequest(pump, payload, false))
}

func (s *Session) SendSet(pump string, data llsd.Map) error {
	if err := s.requireRunning(); err != nil {
		return err
	}
	return s.Send(s.BuildSet(pump, data))
}

func (s *Session) SendGet(pump string, data any) error {
	if err := s.requireRunning(); err != nil {
		return err
	}
	return s.Send(s.BuildGet(pump, data))
}

func (s *Session) requireRunning() error {
	switch s.State() {
	case StateStarted, StatePolling:
		return nil
	case StateStopped:
		return ErrStopped
	default:
		return ErrNotStarted
	}
}
