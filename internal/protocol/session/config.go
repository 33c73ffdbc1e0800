package session

import (
	"time"

	"github.com/secondlife/leap/internal/protocol/frame"
)

// DefaultSource is the controller pump the listen request attaches to.
const DefaultSource = "puppetry.controller"

// Config defines session defaults.
type Config struct {
	// Source names the host pump this client listens on.
	Source string
	// StartRequestID is the counter value after Start; the listen request
	// carries it and later requests count up from it.
	StartRequestID   int32
	Limits           frame.Limits
	InboundQueueSize int
	HandshakeTimeout time.Duration
	// AwaitListenAck makes Start wait for the host to echo the listen reqid.
	AwaitListenAck bool
}

func DefaultConfig() Config {
	return Config{
		Source:           DefaultSource,
		StartRequestID:   -1,
		Limits:           frame.DefaultLimits(),
		InboundQueueSize: 64,
		HandshakeTimeout: 5 * time.Second,
		AwaitListenAck:   false,
	}
}
