package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/secondlife/leap/internal/protocol/llsd"
)

const (
	opListen = "listen"

	CommandStop = "stop"
	CommandSet  = "set"
	CommandGet  = "get"
)

var (
	ErrHandshakeAbsent        = errors.New("session: no initial message from host")
	ErrHandshakeMissingFields = errors.New("session: initial message missing fields")
	ErrHandshakeTimeout       = errors.New("session: timed out waiting for reply")
)

// Handshake is the host->plugin session-start payload:
// {pump: <reply pump>, data: {command: <command pump>, features: {...}}}.
type Handshake struct {
	ReplyPump   string
	CommandPump string
	Features    any
}

func ParseHandshake(env Envelope) (Handshake, error) {
	h := Handshake{ReplyPump: strings.TrimSpace(env.Pump)}
	if cmd, ok := llsd.Lookup(env.Data, "command"); ok {
		h.CommandPump = strings.TrimSpace(llsd.AsString(cmd))
	}
	features, ok := llsd.Lookup(env.Data, "features")
	if !ok {
		return Handshake{}, fmt.Errorf("%w: missing data.features", ErrHandshakeMissingFields)
	}
	h.Features = features
	if err := h.Validate(); err != nil {
		return Handshake{}, err
	}
	return h, nil
}

func (h Handshake) Validate() error {
	if h.ReplyPump == "" {
		return fmt.Errorf("%w: missing pump", ErrHandshakeMissingFields)
	}
	if h.CommandPump == "" {
		return fmt.Errorf("%w: missing data.command", ErrHandshakeMissingFields)
	}
	return nil
}

// ListenRequest asks the host's command pump to forward events posted to
// source onto our reply pump. listener must be unique per plugin, so the reply
// pump name is reused.
func ListenRequest(source, listener string, reqid int) llsd.Map {
	return llsd.Map{
		"op":       opListen,
		"reqid":    reqid,
		"source":   source,
		"listener": listener,
	}
}
