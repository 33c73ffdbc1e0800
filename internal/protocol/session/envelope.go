package session

import (
	"errors"
	"fmt"

	"github.com/secondlife/leap/internal/protocol/llsd"
)

var ErrNotEnvelope = errors.New("session: payload is not an envelope map")

// Envelope is one LEAP message: data posted to (or received from) a pump.
type Envelope struct {
	Pump string
	Data any
}

func (e Envelope) Value() llsd.Map {
	return llsd.Map{"pump": e.Pump, "data": e.Data}
}

func (e Envelope) Encode() ([]byte, error) {
	return llsd.Format(e.Value())
}

// DecodeEnvelope parses one frame payload. A missing pump decodes as "".
func DecodeEnvelope(payload []byte) (Envelope, error) {
	v, err := llsd.Parse(payload)
	if err != nil {
		return Envelope{}, err
	}
	m, ok := v.(llsd.Map)
	if !ok {
		return Envelope{}, fmt.Errorf("%w: got %T", ErrNotEnvelope, v)
	}
	return Envelope{Pump: llsd.AsString(m["pump"]), Data: m["data"]}, nil
}

// DataMap returns Data when it is a map, else nil.
func (e Envelope) DataMap() llsd.Map {
	m, _ := e.Data.(llsd.Map)
	return m
}

// Command returns data.command, or "" when absent.
func (e Envelope) Command() string {
	v, _ := llsd.Lookup(e.Data, "command")
	return llsd.AsString(v)
}

// Args returns data.args, which may be nil.
func (e Envelope) Args() any {
	v, _ := llsd.Lookup(e.Data, "args")
	return v
}

// ReqID returns data.reqid when present and numeric.
func (e Envelope) ReqID() (int, bool) {
	v, ok := llsd.Lookup(e.Data, "reqid")
	if !ok {
		return 0, false
	}
	return llsd.AsInteger(v)
}
