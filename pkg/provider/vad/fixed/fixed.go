// Package fixed provides a classifier that labels every well-formed frame as
// speech.
//
// It exists for exercising the pipeline without a real detector. Paired with
// a segmenter frame cap the capture degenerates to "start at once, flush
// after N frames".
package fixed

import "github.com/MrWong99/tasmi/pkg/provider/vad"

// DefaultFlushFrames is the segment length used with this classifier when no
// frame cap is configured: 17 frames, about 510 ms at 30 ms per frame.
const DefaultFlushFrames = 17

var (
	_ vad.Engine     = Engine{}
	_ vad.Classifier = (*Classifier)(nil)
)

// Engine creates fixed classifiers.
type Engine struct{}

// NewSession implements [vad.Engine].
func (Engine) NewSession(cfg vad.Config) (vad.Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Classifier{cfg: cfg}, nil
}

// Classifier always reports speech for frames of the configured size.
type Classifier struct {
	cfg    vad.Config
	closed bool
}

// IsSpeech implements [vad.Classifier].
func (c *Classifier) IsSpeech(frame []byte) (bool, error) {
	if c.closed {
		return false, vad.ErrClosed
	}
	if err := c.cfg.CheckFrame(frame); err != nil {
		return false, err
	}
	return true, nil
}

// Reset is a no-op.
func (c *Classifier) Reset() {}

// Close marks the classifier closed.
func (c *Classifier) Close() error {
	c.closed = true
	return nil
}
