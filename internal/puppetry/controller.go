// Package puppetry drives the viewer's "puppetry" pump over a LEAP session:
// joint data goes out as set requests, and the viewer's controller commands
// (camera, enabled parts, skeleton) update local state.
package puppetry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/secondlife/leap/internal/protocol/llsd"
	"github.com/secondlife/leap/internal/protocol/session"
)

const (
	Pump = "puppetry"

	CommandLog         = "log"
	CommandSetCamera   = "set_camera"
	CommandEnableParts = "enable_parts"
	CommandSetSkeleton = "set_skeleton"

	DefaultPartsMask = 0x1F
)

var (
	ErrMalformedArgs = errors.New("puppetry: malformed command args")
	ErrMalformedGet  = errors.New("puppetry: get data must be a string or list of strings")
)

// Part bits in the viewer's parts mask.
var parts = map[string]int{
	"head":    1,
	"face":    2,
	"lhand":   4,
	"rhand":   8,
	"fingers": 16,
}

// Sender is the subset of a session the controller needs.
type Sender interface {
	SendSet(pump string, data llsd.Map) error
	SendGet(pump string, data any) error
	Handle(name string, fn session.CommandFunc)
}

type Controller struct {
	sess   Sender
	logger zerolog.Logger

	mu        sync.RWMutex
	camera    int
	hasCamera bool
	partsMask int
	skeleton  llsd.Map
}

// New registers the controller's commands on sess.
func New(sess Sender, logger zerolog.Logger) *Controller {
	c := &Controller{
		sess:      sess,
		logger:    logger,
		partsMask: DefaultPartsMask,
		skeleton:  llsd.Map{},
	}
	sess.Handle(CommandLog, c.handleLog)
	sess.Handle(CommandSetCamera, c.handleSetCamera)
	sess.Handle(CommandEnableParts, c.handleEnableParts)
	sess.Handle(CommandSetSkeleton, c.handleSetSkeleton)
	return c
}

// SendSet posts joint data, e.g. {"mHead": {"local_rot": [x, y, z]}}.
func (c *Controller) SendSet(data llsd.Map) error {
	if data == nil {
		return fmt.Errorf("%w: nil set data", ErrMalformedArgs)
	}
	return c.sess.SendSet(Pump, data)
}

// SendGet asks the viewer for one or more named values. An empty list sends
// nothing.
func (c *Controller) SendGet(data any) error {
	var names llsd.Array
	switch x := data.(type) {
	case string:
		names = llsd.Array{x}
	case []string:
		names = llsd.ToArray(x)
	case llsd.Array:
		for _, item := range x {
			if s, ok := item.(string); ok {
				names = append(names, s)
			}
		}
	default:
		return fmt.Errorf("%w: got %T", ErrMalformedGet, data)
	}
	if len(names) == 0 {
		return nil
	}
	return c.sess.SendGet(Pump, names)
}

// PartActive reports whether the viewer has the named part enabled. Unknown
// names are never active.
func (c *Controller) PartActive(name string) bool {
	bit, ok := parts[name]
	if !ok {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.partsMask&bit != 0
}

func (c *Controller) PartsMask() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.partsMask
}

// CameraNumber returns the capture device selected by the viewer, if any.
func (c *Controller) CameraNumber() (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.camera, c.hasCamera
}

// Skeleton returns the top-level skeleton field name.
func (c *Controller) Skeleton(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.skeleton[name]
	return v, ok
}

func (c *Controller) handleLog(args any) error {
	c.logger.Info().Interface("args", args).Msg("viewer log")
	return nil
}

func (c *Controller) handleSetCamera(args any) error {
	raw, ok, err := intArg(args, "camera_id")
	if err != nil || !ok {
		return err
	}
	c.mu.Lock()
	c.camera = raw
	c.hasCamera = true
	c.mu.Unlock()
	c.logger.Info().Int("camera", raw).Msg("set_camera")
	return nil
}

func (c *Controller) handleEnableParts(args any) error {
	mask, ok, err := intArg(args, "parts_mask")
	if err != nil || !ok {
		return err
	}
	c.mu.Lock()
	c.partsMask = mask
	c.mu.Unlock()
	c.logger.Info().Int("parts_mask", mask).Msg("enable_parts")
	return nil
}

func (c *Controller) handleSetSkeleton(args any) error {
	if args == nil {
		return nil
	}
	m, ok := args.(llsd.Map)
	if !ok {
		return fmt.Errorf("%w: set_skeleton wants a map, got %T", ErrMalformedArgs, args)
	}
	c.mu.Lock()
	c.skeleton = m
	c.mu.Unlock()
	c.logger.Debug().Int("fields", len(m)).Msg("set_skeleton")
	return nil
}

// intArg reads args[key] as an integer. Missing args or a missing key is not
// an error.
func intArg(args any, key string) (int, bool, error) {
	if args == nil {
		return 0, false, nil
	}
	m, ok := args.(llsd.Map)
	if !ok {
		return 0, false, fmt.Errorf("%w: want map with %s, got %T", ErrMalformedArgs, key, args)
	}
	raw, ok := m[key]
	if !ok || raw == nil {
		return 0, false, nil
	}
	n, ok := llsd.AsInteger(raw)
	if !ok {
		return 0, false, fmt.Errorf("%w: %s=%v", ErrMalformedArgs, key, raw)
	}
	return n, true, nil
}
