package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
	"github.com/secondlife/leap/internal/observability"
	"github.com/secondlife/leap/internal/protocol/frame"
	"github.com/secondlife/leap/internal/protocol/llsd"
	"github.com/someonegg/gox/syncx"
)

var (
	ErrNotStarted     = errors.New("session: not started")
	ErrAlreadyStarted = errors.New("session: already started")
	ErrStopped        = errors.New("session: stopped")
	ErrStreamClosed   = errors.New("session: inbound stream closed")
)

type State int32

const (
	StateUninitialized State = iota
	StateStarted
	StatePolling
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateStarted:
		return "started"
	case StatePolling:
		return "polling"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// inbound is one item from the reader goroutine. err is set for frames that
// were absent or unparseable; those are already logged.
type inbound struct {
	env Envelope
	err error
}

// Session is a LEAP plugin session with the host.
type Session struct {
	cfg    Config
	logger zerolog.Logger
	dump   *frame.Dump
	stream *frame.Stream

	mu          sync.Mutex
	state       State
	replyPump   string
	commandPump string
	features    any
	nextReqID   int32

	handlersMu sync.RWMutex
	handlers   map[string]CommandFunc
	onInbound  InboundHandler

	pending *PendingRequests

	inQ        chan inbound
	readerOnce sync.Once
	readErr    error
	readerD    syncx.DoneChan

	stopOnce sync.Once
	stopD    syncx.DoneChan
}

type Option func(s *Session)

func WithConfig(cfg Config) Option {
	return func(s *Session) {
		s.cfg = cfg
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

// WithDump duplicates every frame read or written to d. The session closes d
// on Stop.
func WithDump(d *frame.Dump) Option {
	return func(s *Session) {
		s.dump = d
	}
}

// New builds a session over in (host->plugin) and out (plugin->host),
// normally os.Stdin and os.Stdout.
func New(in io.Reader, out io.Writer, opts ...Option) *Session {
	s := &Session{
		cfg:      DefaultConfig(),
		logger:   zerolog.Nop(),
		handlers: make(map[string]CommandFunc),
		pending:  NewPendingRequests(),
		readerD:  syncx.NewDoneChan(),
		stopD:    syncx.NewDoneChan(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.cfg.InboundQueueSize < 1 {
		s.cfg.InboundQueueSize = 1
	}
	if s.cfg.Limits.MaxLengthDigits <= 0 || s.cfg.Limits.MaxPayloadBytes <= 0 {
		s.cfg.Limits = frame.DefaultLimits()
	}
	s.nextReqID = s.cfg.StartRequestID
	s.stream = frame.NewStream(in, out, s.cfg.Limits, s.dump)
	s.inQ = make(chan inbound, s.cfg.InboundQueueSize)
	s.Handle(CommandStop, func(any) error { return s.Stop() })
	return s
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// advance moves from one state to another and reports whether it did.
func (s *Session) advance(from, to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return false
	}
	s.state = to
	return true
}

func (s *Session) ReplyPump() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replyPump
}

func (s *Session) CommandPump() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commandPump
}

// Features returns the feature set announced by the host at startup.
func (s *Session) Features() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.features
}

func (s *Session) HasFeature(name string) bool {
	return llsd.Has(s.Features(), name)
}

func (s *Session) Pending() []PendingRequest {
	return s.pending.List()
}

func (s *Session) Statistics() frame.Statistics {
	return s.stream.Statistics()
}

// StopD is signaled when the session stops.
func (s *Session) StopD() syncx.DoneChanR {
	return s.stopD.R()
}

// ReaderD is signaled once the inbound stream has ended and every frame read
// from it has been queued.
func (s *Session) ReaderD() syncx.DoneChanR {
	return s.readerD.R()
}

// Start waits for the host's initial message, records the reply and command
// pumps, and announces this client with a listen request.
//
// A failure before the listen request is sent leaves the session
// Uninitialized. A failure after it (a write error or a missing listen ack)
// moves the session to Stopped and Start cannot be retried.
func (s *Session) Start(ctx context.Context) error {
	if st := s.State(); st != StateUninitialized {
		return fmt.Errorf("%w: state=%s", ErrAlreadyStarted, st)
	}
	s.startReader()

	var item inbound
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrHandshakeAbsent, ctx.Err())
	case it, ok := <-s.inQ:
		if !ok {
			return fmt.Errorf("%w: %v", ErrHandshakeAbsent, s.closedCause())
		}
		item = it
	}
	if item.err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeAbsent, item.err)
	}

	hs, err := ParseHandshake(item.env)
	if err != nil {
		s.logger.Warn().Err(err).Msg("initial message did not contain correct payload")
		return err
	}

	s.mu.Lock()
	s.replyPump = hs.ReplyPump
	s.commandPump = hs.CommandPump
	s.features = hs.Features
	s.nextReqID = s.cfg.StartRequestID
	s.mu.Unlock()

	// Once the listen request is out the host knows this reply pump, so any
	// failure from here on stops the session instead of allowing a retry.
	listenID := int(s.cfg.StartRequestID)
	listen := s.BuildRequest(hs.CommandPump, ListenRequest(s.cfg.Source, hs.ReplyPump, listenID), true)
	if err := s.Send(listen); err != nil {
		s.Stop()
		return fmt.Errorf("session: send listen: %w", err)
	}
	s.logger.Info().
		Str("reply_pump", hs.ReplyPump).
		Str("command_pump", hs.CommandPump).
		Str("source", s.cfg.Source).
		Msg("session started")

	if s.cfg.AwaitListenAck {
		ack, err := s.WaitForHandshake(ctx, listenID)
		if err != nil {
			s.Stop()
			return err
		}
		if status, ok := llsd.Lookup(ack.Data, "status"); ok && !llsd.AsBool(status) {
			s.logger.Warn().Str("source", s.cfg.Source).Msg("host rejected listen request")
		} else {
			s.logger.Debug().Str("source", s.cfg.Source).Msg("connected to controller pump")
		}
	}

	s.advance(StateUninitialized, StateStarted)
	return nil
}

// Poll dispatches every queued inbound message without blocking and returns
// how many were dispatched.
func (s *Session) Poll() int {
	if !s.enterPolling() {
		return 0
	}
	n := 0
	for {
		select {
		case item, ok := <-s.inQ:
			if !ok {
				return n
			}
			if item.err != nil {
				continue
			}
			s.dispatch(item.env)
			n++
			if s.State() == StateStopped {
				return n
			}
		default:
			return n
		}
	}
}

// Run dispatches inbound messages until the host sends stop, the inbound
// stream ends, or ctx is done. A stop command returns nil.
func (s *Session) Run(ctx context.Context) error {
	if s.State() == StateUninitialized {
		return ErrNotStarted
	}
	if !s.enterPolling() {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopD:
			return nil
		case item, ok := <-s.inQ:
			if !ok {
				if s.State() == StateStopped {
					return nil
				}
				return s.closedErr()
			}
			if item.err != nil {
				continue
			}
			s.dispatch(item.env)
		}
	}
}

func (s *Session) enterPolling() bool {
	switch s.State() {
	case StatePolling:
		return true
	case StateStarted:
		s.advance(StateStarted, StatePolling)
		return s.State() == StatePolling
	default:
		return false
	}
}

// WaitForHandshake consumes inbound messages until one carries data.reqid ==
// reqid. Other messages are discarded. Without a ctx deadline the configured
// HandshakeTimeout applies.
func (s *Session) WaitForHandshake(ctx context.Context, reqid int) (Envelope, error) {
	if _, ok := ctx.Deadline(); !ok && s.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
		defer cancel()
	}
	s.startReader()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return Envelope{}, fmt.Errorf("%w: reqid=%d", ErrHandshakeTimeout, reqid)
			}
			return Envelope{}, ctx.Err()
		case <-s.stopD:
			return Envelope{}, ErrStopped
		case item, ok := <-s.inQ:
			if !ok {
				return Envelope{}, s.closedErr()
			}
			if item.err != nil {
				continue
			}
			if got, ok := item.env.ReqID(); ok && got == reqid {
				return item.env, nil
			}
			s.logger.Debug().Str("pump", item.env.Pump).Int("want_reqid", reqid).Msg("skipping unrelated message")
		}
	}
}

// Stop moves the session to Stopped, signals waiters and closes the dump
// sink. Calls after the first return nil.
func (s *Session) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.state = StateStopped
		s.mu.Unlock()
		st := s.stream.Statistics()
		s.logger.Info().
			Int64("frames_read", st.ReadCount).
			Int64("frames_written", st.WrittenCount).
			Int("pending", s.pending.Len()).
			Msg("session stopped")
		s.stopD.SetDone()
		err = s.dump.Close()
	})
	return err
}

func (s *Session) startReader() {
	s.readerOnce.Do(func() {
		go s.reading()
	})
}

func (s *Session) reading() {
	defer s.readerD.SetDone()
	defer close(s.inQ)

	for {
		payload, err := s.stream.Read()
		if err != nil {
			if errors.Is(err, frame.ErrNoFrame) {
				s.logger.Warn().Err(err).Msg("expected len:data, skipping")
				observability.RecordFrameError("absent")
				if !s.push(inbound{err: err}) {
					return
				}
				continue
			}
			s.readErr = err
			if errors.Is(err, io.EOF) {
				s.logger.Info().Msg("host closed the stream")
			} else {
				observability.RecordFrameError("stream")
				s.logger.Warn().Err(err).Msg("inbound stream failed")
			}
			return
		}
		observability.RecordFrame(frame.Read.String(), len(payload))

		env, err := DecodeEnvelope(payload)
		if err != nil {
			s.logParseFailure(payload, err)
			observability.RecordFrameError("parse")
			if !s.push(inbound{err: err}) {
				return
			}
			continue
		}
		if !s.push(inbound{env: env}) {
			return
		}
	}
}

func (s *Session) push(item inbound) bool {
	select {
	case s.inQ <- item:
		return true
	case <-s.stopD:
		return false
	}
}

// closedCause is valid once inQ is closed.
func (s *Session) closedCause() error {
	if s.readErr == nil {
		return io.EOF
	}
	return s.readErr
}

func (s *Session) closedErr() error {
	cause := s.closedCause()
	if errors.Is(cause, io.EOF) {
		return ErrStreamClosed
	}
	return fmt.Errorf("%w: %w", ErrStreamClosed, cause)
}

func (s *Session) logParseFailure(payload []byte, err error) {
	ev := s.logger.Warn().Err(err).Int("bytes", len(payload))
	var perr *llsd.ParseError
	if errors.As(err, &perr) {
		ev = ev.Int("offset", perr.Offset).Str("near", excerpt(payload, perr.Offset))
	} else {
		ev = ev.Str("near", excerpt(payload, 0))
	}
	ev.Msg("bad received packet")
}

// excerpt returns a short window of payload around offset; large packets are
// not worth dumping whole.
func excerpt(payload []byte, offset int) string {
	const before, after = 20, 40
	start := offset - before
	if start < 0 {
		start = 0
	}
	end := offset + after
	if end > len(payload) {
		end = len(payload)
	}
	if start > end {
		start = end
	}
	out := string(payload[start:end])
	if start > 0 {
		out = "..." + out
	}
	if end < len(payload) {
		out += fmt.Sprintf("... (%d more)", len(payload)-end)
	}
	return out
}
