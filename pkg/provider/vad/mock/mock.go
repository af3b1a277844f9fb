// Package mock provides test doubles for the vad package interfaces.
//
// Classifier replays a scripted sequence of speech/silence decisions, one per
// IsSpeech call, which makes segmentation tests fully deterministic:
//
//	c := &mock.Classifier{FrameBytes: 960, Script: []bool{true, true, false}}
//	eng := &mock.Engine{Classifier: c}
package mock

import (
	"fmt"
	"sync"

	"github.com/MrWong99/tasmi/pkg/provider/vad"
)

// NewSessionCall records a single invocation of Engine.NewSession.
type NewSessionCall struct {
	Cfg vad.Config
}

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Classifier is returned by NewSession. If nil, a fresh Classifier sized
	// from the session config is returned.
	Classifier vad.Classifier

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// NewSessionCalls records every call to NewSession in order.
	NewSessionCalls []NewSessionCall
}

// NewSession records the call and returns Classifier, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.Classifier, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, NewSessionCall{Cfg: cfg})
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Classifier != nil {
		return e.Classifier, nil
	}
	return &Classifier{FrameBytes: cfg.FrameBytes()}, nil
}

var _ vad.Engine = (*Engine)(nil)

// Classifier is a scripted implementation of vad.Classifier.
type Classifier struct {
	mu sync.Mutex

	// FrameBytes is the accepted frame length. Zero accepts any length.
	FrameBytes int

	// Script lists the decisions returned by successive IsSpeech calls.
	Script []bool

	// Default is returned once Script is exhausted.
	Default bool

	// Err, if non-nil, is returned by every IsSpeech call.
	Err error

	// --- Call records ---

	// Frames holds a copy of every accepted frame.
	Frames [][]byte

	// Rejected counts frames refused for their length.
	Rejected int

	ResetCallCount int
	CloseCallCount int

	pos int
}

// IsSpeech returns the next scripted decision.
func (c *Classifier) IsSpeech(frame []byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FrameBytes > 0 && len(frame) != c.FrameBytes {
		c.Rejected++
		return false, fmt.Errorf("%w: got %d bytes, want %d", vad.ErrFrameSize, len(frame), c.FrameBytes)
	}
	if c.Err != nil {
		return false, c.Err
	}
	c.Frames = append(c.Frames, append([]byte(nil), frame...))
	if c.pos < len(c.Script) {
		v := c.Script[c.pos]
		c.pos++
		return v, nil
	}
	return c.Default, nil
}

// Reset records the call. The script position is left untouched.
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ResetCallCount++
}

// Close records the call.
func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCallCount++
	return nil
}

var _ vad.Classifier = (*Classifier)(nil)
