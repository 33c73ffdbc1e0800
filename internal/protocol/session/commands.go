package session

import (
	"strings"

	"github.com/secondlife/leap/internal/observability"
)

// CommandFunc handles one inbound command; args is data.args and may be nil.
type CommandFunc func(args any) error

// InboundHandler receives inbound messages that no command handler took.
type InboundHandler func(env Envelope)

// Handle registers fn for data.command == name, replacing any previous
// handler. "stop" is registered by New.
func (s *Session) Handle(name string, fn CommandFunc) {
	name = strings.TrimSpace(name)
	if name == "" || fn == nil {
		return
	}
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers[name] = fn
}

func (s *Session) Unhandle(name string) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	delete(s.handlers, strings.TrimSpace(name))
}

func (s *Session) SetInboundHandler(h InboundHandler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.onInbound = h
}

func (s *Session) dispatch(env Envelope) {
	if reqid, ok := env.ReqID(); ok {
		if req, found := s.pending.Resolve(reqid); found {
			observability.SetPendingRequests(s.pending.Len())
			s.logger.Debug().Int("reqid", reqid).Str("pump", req.Pump).Msg("reply received")
		}
	}

	name := env.Command()
	s.handlersMu.RLock()
	fn := s.handlers[name]
	onInbound := s.onInbound
	s.handlersMu.RUnlock()

	if name != "" {
		if fn != nil {
			err := fn(env.Args())
			observability.RecordCommand(name, err == nil)
			if err == nil {
				return
			}
			s.logger.Info().Err(err).Str("command", name).Msg("command failed")
		} else {
			observability.RecordCommand(name, false)
			s.logger.Debug().Str("command", name).Msg("unknown command")
		}
	}

	if onInbound != nil {
		onInbound(env)
		return
	}
	if name == "" {
		s.logger.Debug().Str("pump", env.Pump).Msg("unhandled message")
	}
}
