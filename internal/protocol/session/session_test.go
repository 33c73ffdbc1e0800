package session

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/secondlife/leap/internal/protocol/frame"
	"github.com/secondlife/leap/internal/protocol/llsd"
	"github.com/secondlife/leap/internal/testutil/testlog"
)

const (
	replyPumpID   = "00000000-0000-0000-0000-000000000001"
	commandPumpID = "00000000-0000-0000-0000-000000000002"
)

var handshake = `{"pump":"` + replyPumpID + `","data":{"command":"` + commandPumpID + `","features":{}}}`

func wire(payloads ...string) string {
	var sb strings.Builder
	for _, p := range payloads {
		fmt.Fprintf(&sb, "%d:%s", len(p), p)
	}
	return sb.String()
}

func sent(t *testing.T, out *bytes.Buffer) []Envelope {
	t.Helper()
	r := bufio.NewReader(bytes.NewReader(out.Bytes()))
	var envs []Envelope
	for {
		payload, err := frame.ReadFrame(r, frame.DefaultLimits())
		if errors.Is(err, io.EOF) {
			return envs
		}
		if err != nil {
			t.Fatalf("read sent frame: %v", err)
		}
		env, err := DecodeEnvelope(payload)
		if err != nil {
			t.Fatalf("decode sent frame %q: %v", payload, err)
		}
		envs = append(envs, env)
	}
}

func newTestSession(t *testing.T, in string, opts ...Option) (*Session, *bytes.Buffer) {
	t.Helper()
	out := &bytes.Buffer{}
	opts = append([]Option{WithLogger(testlog.Logger(t))}, opts...)
	return New(strings.NewReader(in), out, opts...), out
}

func waitReader(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.ReaderD():
	case <-time.After(time.Second):
		t.Fatalf("reader did not finish")
	}
}

func TestStartSendsListenWithoutReply(t *testing.T) {
	testlog.Start(t)
	s, out := newTestSession(t, wire(handshake))

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if s.State() != StateStarted {
		t.Fatalf("unexpected state: %s", s.State())
	}
	if s.ReplyPump() != replyPumpID || s.CommandPump() != commandPumpID {
		t.Fatalf("unexpected pumps: reply=%q command=%q", s.ReplyPump(), s.CommandPump())
	}
	if !reflect.DeepEqual(s.Features(), llsd.Map{}) {
		t.Fatalf("unexpected features: %#v", s.Features())
	}

	envs := sent(t, out)
	if len(envs) != 1 {
		t.Fatalf("expected one listen request, got %d", len(envs))
	}
	listen := envs[0]
	if listen.Pump != commandPumpID {
		t.Fatalf("listen sent to %q", listen.Pump)
	}
	want := llsd.Map{
		"op":       "listen",
		"reqid":    -1,
		"source":   DefaultSource,
		"listener": replyPumpID,
	}
	if !reflect.DeepEqual(listen.Data, want) {
		t.Fatalf("listen mismatch: got=%#v want=%#v", listen.Data, want)
	}

	next := s.BuildRequest("puppetry", llsd.Map{}, false)
	if id, _ := next.ReqID(); id != 0 {
		t.Fatalf("first request after listen should carry reqid 0, got %d", id)
	}
}

func TestStartFailsWithoutFeatures(t *testing.T) {
	testlog.Start(t)
	in := wire(`{'pump':'` + replyPumpID + `','data':{'command':'` + commandPumpID + `'}}`)
	s, out := newTestSession(t, in)

	err := s.Start(context.Background())
	if !errors.Is(err, ErrHandshakeMissingFields) {
		t.Fatalf("expected ErrHandshakeMissingFields, got %v", err)
	}
	if s.State() != StateUninitialized {
		t.Fatalf("state should stay uninitialized, got %s", s.State())
	}
	if out.Len() != 0 {
		t.Fatalf("nothing should be sent: %q", out.String())
	}
}

func TestStartFailsWithoutPumps(t *testing.T) {
	testlog.Start(t)
	for _, payload := range []string{
		`{'data':{'command':'` + commandPumpID + `','features':{}}}`,
		`{'pump':'` + replyPumpID + `','data':{'features':{}}}`,
	} {
		s, _ := newTestSession(t, wire(payload))
		if err := s.Start(context.Background()); !errors.Is(err, ErrHandshakeMissingFields) {
			t.Fatalf("%s: expected ErrHandshakeMissingFields, got %v", payload, err)
		}
	}
}

func TestStartFailsWhenFrameAbsent(t *testing.T) {
	testlog.Start(t)
	for _, in := range []string{"", "5:{foo}", "2:[]"} {
		s, _ := newTestSession(t, in)
		if err := s.Start(context.Background()); !errors.Is(err, ErrHandshakeAbsent) {
			t.Fatalf("%q: expected ErrHandshakeAbsent, got %v", in, err)
		}
	}
}

func TestStartTwiceFails(t *testing.T) {
	testlog.Start(t)
	s, _ := newTestSession(t, wire(handshake))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestBuildRequestCounterAndReply(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.StartRequestID = 10
	s, _ := newTestSession(t, "", WithConfig(cfg))

	for i := 0; i < 3; i++ {
		env := s.BuildRequest("puppetry", llsd.Map{"x": i}, false)
		id, ok := env.ReqID()
		if !ok || id != 10+i {
			t.Fatalf("request %d: reqid=%d ok=%v", i, id, ok)
		}
		if _, ok := llsd.Lookup(env.Data, "reply"); !ok {
			t.Fatalf("request %d: missing reply", i)
		}
	}

	env := s.BuildRequest("puppetry", llsd.Map{"reply": "custom"}, false)
	if got := env.DataMap()["reply"]; got != "custom" {
		t.Fatalf("existing reply overwritten: %v", got)
	}
	if id, _ := env.ReqID(); id != 13 {
		t.Fatalf("unexpected reqid: %d", id)
	}

	initial := s.BuildRequest("cmd", llsd.Map{"op": "listen"}, true)
	if llsd.Has(initial.Data, "reqid") || llsd.Has(initial.Data, "reply") {
		t.Fatalf("initial request must not carry reqid/reply: %#v", initial.Data)
	}

	after := s.BuildRequest("puppetry", nil, false)
	if id, _ := after.ReqID(); id != 15 {
		t.Fatalf("initial request should still advance the counter, got %d", id)
	}
}

func TestBuildRequestDoesNotMutatePayload(t *testing.T) {
	testlog.Start(t)
	s, _ := newTestSession(t, "")
	payload := llsd.Map{"a": 1}
	s.BuildRequest("p", payload, false)
	if len(payload) != 1 {
		t.Fatalf("payload mutated: %#v", payload)
	}
}

func TestBuildSetAndGetShapes(t *testing.T) {
	testlog.Start(t)
	s, _ := newTestSession(t, "")

	set := s.BuildSet("puppetry", llsd.Map{"inverse_kinematics": llsd.Map{}})
	if set.Pump != "puppetry" || set.Command() != CommandSet {
		t.Fatalf("unexpected set envelope: %#v", set)
	}
	if !reflect.DeepEqual(set.DataMap()["data"], llsd.Map{"inverse_kinematics": llsd.Map{}}) {
		t.Fatalf("unexpected set data: %#v", set.DataMap()["data"])
	}

	get := s.BuildGet("puppetry", "skeleton")
	if get.Command() != CommandGet {
		t.Fatalf("unexpected get command: %q", get.Command())
	}
	if !reflect.DeepEqual(get.DataMap()["data"], llsd.Array{"skeleton"}) {
		t.Fatalf("scalar get should be wrapped: %#v", get.DataMap()["data"])
	}
	if llsd.Has(get.Data, "get") {
		t.Fatalf("get must not carry a field named after the verb")
	}

	many := s.BuildGet("puppetry", llsd.Array{"a", "b"})
	if !reflect.DeepEqual(many.DataMap()["data"], llsd.Array{"a", "b"}) {
		t.Fatalf("array get should pass through: %#v", many.DataMap()["data"])
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	testlog.Start(t)
	in := Envelope{Pump: "puppetry", Data: llsd.Map{"command": "set", "reqid": 4, "data": llsd.Map{"k": llsd.Array{0.5, true}}}}
	b, err := in.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeEnvelope(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("round trip mismatch: got=%#v want=%#v", out, in)
	}
	if _, err := DecodeEnvelope([]byte("{foo}")); err == nil {
		t.Fatalf("malformed envelope should fail")
	}
	if _, err := DecodeEnvelope([]byte("[i1]")); !errors.Is(err, ErrNotEnvelope) {
		t.Fatalf("expected ErrNotEnvelope, got %v", err)
	}
}

func TestPollSkipsMalformedAndStops(t *testing.T) {
	testlog.Start(t)
	in := wire(handshake) + "5:{foo}" + wire(`{'pump':'`+replyPumpID+`','data':{'command':'stop','args':[]}}`)
	s, _ := newTestSession(t, in)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitReader(t, s)

	if n := s.Poll(); n != 1 {
		t.Fatalf("expected one dispatched message, got %d", n)
	}
	if s.State() != StateStopped {
		t.Fatalf("stop command should stop the session, state=%s", s.State())
	}
	if n := s.Poll(); n != 0 {
		t.Fatalf("poll after stop dispatched %d", n)
	}
	select {
	case <-s.StopD():
	default:
		t.Fatalf("stop signal not raised")
	}
}

func TestPollBeforeStartIsNoop(t *testing.T) {
	testlog.Start(t)
	s, _ := newTestSession(t, wire(handshake))
	if n := s.Poll(); n != 0 {
		t.Fatalf("poll before start dispatched %d", n)
	}
	if s.State() != StateUninitialized {
		t.Fatalf("unexpected state: %s", s.State())
	}
}

func TestPollDispatchesCommandsAndInbound(t *testing.T) {
	testlog.Start(t)
	in := wire(handshake,
		`{'pump':'p','data':{'command':'log','args':'hello'}}`,
		`{'pump':'p','data':{'command':'dance'}}`,
		`{'pump':'p','data':{'event':'moved'}}`,
		`{'pump':'p','data':{'command':'broken'}}`,
	)
	s, _ := newTestSession(t, in)

	var logged []any
	s.Handle("log", func(args any) error {
		logged = append(logged, args)
		return nil
	})
	s.Handle("broken", func(any) error { return errors.New("boom") })
	var inbound []string
	s.SetInboundHandler(func(env Envelope) {
		inbound = append(inbound, env.Command())
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitReader(t, s)
	if n := s.Poll(); n != 4 {
		t.Fatalf("expected 4 dispatched, got %d", n)
	}
	if s.State() != StatePolling {
		t.Fatalf("unexpected state: %s", s.State())
	}
	if !reflect.DeepEqual(logged, []any{"hello"}) {
		t.Fatalf("log handler args: %#v", logged)
	}
	if !reflect.DeepEqual(inbound, []string{"dance", "", "broken"}) {
		t.Fatalf("inbound handler saw: %#v", inbound)
	}

	s.Unhandle("log")
	s.Handle("", func(any) error { return nil })
	s.Handle("nil", nil)
	s.handlersMu.RLock()
	_, hasLog := s.handlers["log"]
	count := len(s.handlers)
	s.handlersMu.RUnlock()
	if hasLog || count != 2 {
		t.Fatalf("unexpected handler table: log=%v count=%d", hasLog, count)
	}
}

func TestSendTracksPendingUntilReply(t *testing.T) {
	testlog.Start(t)
	in := wire(handshake, `{'pump':'`+replyPumpID+`','data':{'reqid':i0,'status':true}}`)
	s, out := newTestSession(t, in)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.SendSet("puppetry", llsd.Map{"k": 1}); err != nil {
		t.Fatalf("send set: %v", err)
	}
	pending := s.Pending()
	if len(pending) != 1 || pending[0].ReqID != 0 || pending[0].Pump != "puppetry" {
		t.Fatalf("unexpected pending: %+v", pending)
	}

	envs := sent(t, out)
	if len(envs) != 2 {
		t.Fatalf("expected listen + set, got %d", len(envs))
	}
	set := envs[1].DataMap()
	if set["reply"] != replyPumpID || set["reqid"] != 0 || set["command"] != "set" {
		t.Fatalf("unexpected set data: %#v", set)
	}

	waitReader(t, s)
	s.Poll()
	if len(s.Pending()) != 0 {
		t.Fatalf("reply should resolve pending request: %+v", s.Pending())
	}
}

func TestRequestsRequireStartedSession(t *testing.T) {
	testlog.Start(t)
	s, out := newTestSession(t, "")
	if err := s.Request("puppetry", llsd.Map{}); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
	if err := s.SendGet("puppetry", "x"); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("nothing should be sent: %q", out.String())
	}
}

func TestRunEndsWithStreamClosed(t *testing.T) {
	testlog.Start(t)
	s, _ := newTestSession(t, wire(handshake, `{'pump':'p','data':{'event':1}}`))
	if err := s.Run(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Run(context.Background()); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("expected ErrStreamClosed, got %v", err)
	}
}

func TestRunReturnsNilOnStop(t *testing.T) {
	testlog.Start(t)
	s, _ := newTestSession(t, wire(handshake, `{'data':{'command':'stop','args':[]}}`))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if s.State() != StateStopped {
		t.Fatalf("unexpected state: %s", s.State())
	}
}

func TestRunHonorsContext(t *testing.T) {
	testlog.Start(t)
	pr, pw := io.Pipe()
	defer pw.Close()
	s := New(pr, io.Discard, WithLogger(testlog.Logger(t)))
	go pw.Write([]byte(wire(handshake)))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestWaitForHandshakeSkipsUnrelated(t *testing.T) {
	testlog.Start(t)
	in := wire(
		`{'pump':'p','data':{'reqid':i5}}`,
		`{'pump':'p','data':{'command':'noise'}}`,
		`{'pump':'p','data':{'reqid':i7,'status':true}}`,
	)
	s, _ := newTestSession(t, in)
	env, err := s.WaitForHandshake(context.Background(), 7)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if id, _ := env.ReqID(); id != 7 {
		t.Fatalf("unexpected reply: %#v", env)
	}
}

func TestWaitForHandshakeTimesOut(t *testing.T) {
	testlog.Start(t)
	pr, pw := io.Pipe()
	defer pw.Close()
	cfg := DefaultConfig()
	cfg.HandshakeTimeout = 20 * time.Millisecond
	s := New(pr, io.Discard, WithConfig(cfg), WithLogger(testlog.Logger(t)))

	_, err := s.WaitForHandshake(context.Background(), 1)
	if !errors.Is(err, ErrHandshakeTimeout) {
		t.Fatalf("expected ErrHandshakeTimeout, got %v", err)
	}
}

func TestWaitForHandshakeStreamEnd(t *testing.T) {
	testlog.Start(t)
	s, _ := newTestSession(t, wire(`{'pump':'p','data':{'reqid':i5}}`))
	if _, err := s.WaitForHandshake(context.Background(), 1); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("expected ErrStreamClosed, got %v", err)
	}
}

func TestStartAwaitsListenAck(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.AwaitListenAck = true
	in := wire(handshake,
		`{'pump':'`+replyPumpID+`','data':{'command':'early'}}`,
		`{'pump':'`+replyPumpID+`','data':{'reqid':i-1,'status':true}}`,
	)
	s, _ := newTestSession(t, in, WithConfig(cfg))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if s.State() != StateStarted {
		t.Fatalf("unexpected state: %s", s.State())
	}
}

func TestStartStopsWhenListenAckMissing(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.AwaitListenAck = true
	s, out := newTestSession(t, wire(handshake), WithConfig(cfg))

	if err := s.Start(context.Background()); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("expected ErrStreamClosed, got %v", err)
	}
	if s.State() != StateStopped {
		t.Fatalf("session should stop after listen was sent, state=%s", s.State())
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("retry should be refused, got %v", err)
	}
	if envs := sent(t, out); len(envs) != 1 {
		t.Fatalf("expected exactly one listen request, got %d", len(envs))
	}
}

type closeCounter struct {
	bytes.Buffer
	closes int
}

func (c *closeCounter) Close() error {
	c.closes++
	return nil
}

func TestStopIsIdempotentAndClosesDumpOnce(t *testing.T) {
	testlog.Start(t)
	sink := &closeCounter{}
	s, _ := newTestSession(t, wire(handshake), WithDump(frame.NewDump(sink)))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	dumped := sink.String()
	if !strings.HasPrefix(dumped, "R:") || !strings.Contains(dumped, "W:") {
		t.Fatalf("dump should record the handshake and listen frames: %q", dumped)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if sink.closes != 1 {
		t.Fatalf("dump closed %d times", sink.closes)
	}
	if err := s.Send(Envelope{Pump: "p", Data: llsd.Map{}}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if err := s.SendSet("puppetry", llsd.Map{}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if sink.String() != dumped {
		t.Fatalf("dump written after stop")
	}
}

func TestHasFeature(t *testing.T) {
	testlog.Start(t)
	in := wire(`{'pump':'r','data':{'command':'c','features':{'batched':true}}}`)
	s, _ := newTestSession(t, in)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !s.HasFeature("batched") || s.HasFeature("missing") {
		t.Fatalf("unexpected features: %#v", s.Features())
	}
}

func TestExcerptTruncates(t *testing.T) {
	payload := []byte(strings.Repeat("a", 100))
	got := excerpt(payload, 50)
	if !strings.HasPrefix(got, "...") || !strings.HasSuffix(got, "(10 more)") {
		t.Fatalf("unexpected excerpt: %q", got)
	}
	if excerpt([]byte("short"), 0) != "short" {
		t.Fatalf("short payload should be whole")
	}
}
