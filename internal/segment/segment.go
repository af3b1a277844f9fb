// Package segment turns a stream of fixed-size PCM frames into word-length
// utterances.
//
// A [Segmenter] runs a two-state machine over a bounded window of recent
// frame classifications. It enters capture once the share of speech frames in
// the window passes the trigger ratio, and flushes the captured audio once the
// share of silence frames passes the (higher) release ratio. Both ratios are
// fractions of the window capacity, not of its current fill.
//
// A Segmenter belongs to one audio stream and is not safe for concurrent use.
package segment

import (
	"errors"
	"fmt"

	"github.com/MrWong99/tasmi/pkg/provider/vad"
)

// ErrMalformedFrame is returned by [Segmenter.ProcessFrame] for frames whose
// length differs from [Config.FrameBytes]. The segmenter state is unchanged.
var ErrMalformedFrame = errors.New("segment: malformed frame")

// State is the capture state of a [Segmenter].
type State int

const (
	// Idle means no utterance is being captured.
	Idle State = iota

	// Capturing means frames are being accumulated into a pending segment.
	Capturing
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	default:
		return "unknown"
	}
}

// Config holds the segmentation parameters.
type Config struct {
	// SampleRate of the incoming PCM in Hz. Default 16000.
	SampleRate int `yaml:"sample_rate"`

	// FrameDurationMs is the duration of one frame. Default 30.
	FrameDurationMs int `yaml:"frame_duration_ms"`

	// WindowFrames is the ring capacity W. Default 10.
	WindowFrames int `yaml:"window_frames"`

	// TriggerRatio: capture starts when speech frames > TriggerRatio*W.
	// Default 0.5.
	TriggerRatio float64 `yaml:"trigger_ratio"`

	// ReleaseRatio: capture ends when silence frames > ReleaseRatio*W.
	// Default 0.8.
	ReleaseRatio float64 `yaml:"release_ratio"`

	// MaxSegmentFrames forces a flush once the pending segment holds this
	// many frames. Zero disables the cap.
	MaxSegmentFrames int `yaml:"max_segment_frames"`
}

// DefaultConfig returns 16 kHz, 30 ms frames, W=10, trigger 0.5, release 0.8.
func DefaultConfig() Config {
	return Config{
		SampleRate:      16000,
		FrameDurationMs: 30,
		WindowFrames:    10,
		TriggerRatio:    0.5,
		ReleaseRatio:    0.8,
	}
}

// WithDefaults returns c with zero fields replaced from [DefaultConfig].
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.SampleRate == 0 {
		c.SampleRate = d.SampleRate
	}
	if c.FrameDurationMs == 0 {
		c.FrameDurationMs = d.FrameDurationMs
	}
	if c.WindowFrames == 0 {
		c.WindowFrames = d.WindowFrames
	}
	if c.TriggerRatio == 0 {
		c.TriggerRatio = d.TriggerRatio
	}
	if c.ReleaseRatio == 0 {
		c.ReleaseRatio = d.ReleaseRatio
	}
	return c
}

// FrameBytes is the exact length of one mono 16-bit frame.
func (c Config) FrameBytes() int {
	return c.SampleRate * c.FrameDurationMs / 1000 * 2
}

// Validate returns a joined error describing every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate))
	}
	if c.FrameDurationMs <= 0 {
		errs = append(errs, fmt.Errorf("frame_duration_ms must be positive, got %d", c.FrameDurationMs))
	}
	if c.SampleRate > 0 && c.FrameDurationMs > 0 && c.FrameBytes() == 0 {
		errs = append(errs, fmt.Errorf("frame of %d ms at %d Hz holds no samples", c.FrameDurationMs, c.SampleRate))
	}
	if c.WindowFrames <= 0 {
		errs = append(errs, fmt.Errorf("window_frames must be positive, got %d", c.WindowFrames))
	}
	if c.TriggerRatio <= 0 || c.TriggerRatio >= 1 {
		errs = append(errs, fmt.Errorf("trigger_ratio %.2f out of range (0, 1)", c.TriggerRatio))
	}
	if c.ReleaseRatio <= 0 || c.ReleaseRatio >= 1 {
		errs = append(errs, fmt.Errorf("release_ratio %.2f out of range (0, 1)", c.ReleaseRatio))
	}
	if c.MaxSegmentFrames < 0 {
		errs = append(errs, fmt.Errorf("max_segment_frames must not be negative, got %d", c.MaxSegmentFrames))
	}
	return errors.Join(errs...)
}

// VADConfig derives the classifier config matching this frame geometry.
func (c Config) VADConfig(aggressiveness int) vad.Config {
	return vad.Config{
		SampleRate:     c.SampleRate,
		FrameSizeMs:    c.FrameDurationMs,
		Aggressiveness: aggressiveness,
	}
}

// slot is one ring entry.
type slot struct {
	frame  []byte
	speech bool
}

// Segmenter assembles utterances from classified frames.
type Segmenter struct {
	cfg        Config
	classifier vad.Classifier
	frameBytes int

	state State

	// ring is a fixed-capacity circular buffer; head is the oldest entry.
	ring    []slot
	head    int
	size    int
	speech  int
	silence int

	pending [][]byte
}

// New returns a Segmenter in the Idle state. The classifier is owned by the
// Segmenter from here on and closed by [Segmenter.Close].
func New(classifier vad.Classifier, cfg Config) (*Segmenter, error) {
	if classifier == nil {
		return nil, errors.New("segment: classifier must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("segment: %w", err)
	}
	return &Segmenter{
		cfg:        cfg,
		classifier: classifier,
		frameBytes: cfg.FrameBytes(),
		ring:       make([]slot, cfg.WindowFrames),
	}, nil
}

// Config returns the parameters the Segmenter was built with.
func (s *Segmenter) Config() Config { return s.cfg }

// State returns the current capture state.
func (s *Segmenter) State() State { return s.state }

// Buffered returns the number of frames currently in the window.
func (s *Segmenter) Buffered() int { return s.size }

// PendingFrames returns the number of frames in the pending segment.
func (s *Segmenter) PendingFrames() int { return len(s.pending) }

// ProcessFrame consumes one frame. It returns a completed segment when the
// frame closes an utterance and nil otherwise. Malformed frames yield
// [ErrMalformedFrame]; classifier failures are wrapped and returned. In both
// error cases no state changes.
//
// The frame is copied; callers may reuse the buffer.
func (s *Segmenter) ProcessFrame(frame []byte) ([]byte, error) {
	if len(frame) != s.frameBytes {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrMalformedFrame, len(frame), s.frameBytes)
	}
	speech, err := s.classifier.IsSpeech(frame)
	if err != nil {
		if errors.Is(err, vad.ErrFrameSize) {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return nil, fmt.Errorf("segment: classify frame: %w", err)
	}
	f := make([]byte, len(frame))
	copy(f, frame)

	switch s.state {
	case Idle:
		s.push(f, speech)
		if float64(s.speech) > s.cfg.TriggerRatio*float64(s.cfg.WindowFrames) {
			s.state = Capturing
			s.pending = s.drain(s.pending[:0])
		}
		return nil, nil

	default:
		s.pending = append(s.pending, f)
		s.push(f, speech)
		if float64(s.silence) > s.cfg.ReleaseRatio*float64(s.cfg.WindowFrames) {
			return s.flush(), nil
		}
		if s.cfg.MaxSegmentFrames > 0 && len(s.pending) >= s.cfg.MaxSegmentFrames {
			return s.flush(), nil
		}
		return nil, nil
	}
}

// Reset discards the window and any pending segment and returns to Idle. The
// classifier's adaptive state is reset as well.
func (s *Segmenter) Reset() {
	s.clearRing()
	s.pending = nil
	s.state = Idle
	s.classifier.Reset()
}

// Close releases the classifier.
func (s *Segmenter) Close() error {
	return s.classifier.Close()
}

// push appends to the ring, evicting the oldest entry when full.
func (s *Segmenter) push(frame []byte, speech bool) {
	w := len(s.ring)
	if s.size == w {
		old := s.ring[s.head]
		s.count(old.speech, -1)
		s.ring[s.head] = slot{}
		s.head = (s.head + 1) % w
		s.size--
	}
	s.ring[(s.head+s.size)%w] = slot{frame: frame, speech: speech}
	s.size++
	s.count(speech, 1)
}

func (s *Segmenter) count(speech bool, delta int) {
	if speech {
		s.speech += delta
	} else {
		s.silence += delta
	}
}

// drain appends the ring's frames to dst in arrival order and empties it.
func (s *Segmenter) drain(dst [][]byte) [][]byte {
	w := len(s.ring)
	for i := range s.size {
		dst = append(dst, s.ring[(s.head+i)%w].frame)
	}
	s.clearRing()
	return dst
}

func (s *Segmenter) clearRing() {
	clear(s.ring)
	s.head, s.size, s.speech, s.silence = 0, 0, 0, 0
}

// flush concatenates the pending frames, clears all buffers and returns to
// Idle.
func (s *Segmenter) flush() []byte {
	out := make([]byte, 0, len(s.pending)*s.frameBytes)
	for _, f := range s.pending {
		out = append(out, f...)
	}
	s.pending = nil
	s.clearRing()
	s.state = Idle
	return out
}
