// Package energy provides a pure-Go frame classifier based on signal energy
// and zero-crossing rate.
//
// A frame counts as speech when its level clears both an absolute floor and a
// margin above an adaptive estimate of the background noise, and its
// zero-crossing rate stays below a ceiling that rejects broadband hiss. All
// three bounds tighten as the aggressiveness level rises.
//
// Usage:
//
//	eng := energy.New()
//	c, err := eng.NewSession(vad.Config{SampleRate: 16000, FrameSizeMs: 30, Aggressiveness: 3})
//	speech, err := c.IsSpeech(frame)
package energy

import (
	"github.com/MrWong99/tasmi/pkg/audio"
	"github.com/MrWong99/tasmi/pkg/provider/vad"
)

// profile holds the decision bounds for one aggressiveness level.
type profile struct {
	floorDBFS  float64 // absolute minimum level for speech
	marginDB   float64 // required headroom above the noise estimate
	zcrCeiling float64 // maximum zero-crossing rate for speech
}

var profiles = [vad.MaxAggressiveness + 1]profile{
	{floorDBFS: -60, marginDB: 3, zcrCeiling: 0.60},
	{floorDBFS: -55, marginDB: 6, zcrCeiling: 0.55},
	{floorDBFS: -50, marginDB: 9, zcrCeiling: 0.50},
	{floorDBFS: -45, marginDB: 12, zcrCeiling: 0.45},
}

const (
	// initialNoiseDBFS seeds the noise estimate low enough that the absolute
	// floor governs the first frames.
	initialNoiseDBFS = -70.0

	defaultAdaptRate = 0.05
)

var _ vad.Engine = (*Engine)(nil)

// Option configures an [Engine].
type Option func(*Engine)

// WithAdaptRate sets how quickly the noise estimate follows non-speech
// frames, in (0, 1]. Defaults to 0.05.
func WithAdaptRate(rate float64) Option {
	return func(e *Engine) {
		if rate > 0 && rate <= 1 {
			e.adaptRate = rate
		}
	}
}

// Engine creates energy classifiers. It is stateless and safe for concurrent
// use.
type Engine struct {
	adaptRate float64
}

// New returns an Engine with the given options applied.
func New(opts ...Option) *Engine {
	e := &Engine{adaptRate: defaultAdaptRate}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Classifier{
		cfg:       cfg,
		profile:   profiles[cfg.Aggressiveness],
		adaptRate: e.adaptRate,
		noiseDBFS: initialNoiseDBFS,
	}, nil
}

// Classifier is a single-stream energy classifier.
type Classifier struct {
	cfg       vad.Config
	profile   profile
	adaptRate float64
	noiseDBFS float64
	closed    bool
}

var _ vad.Classifier = (*Classifier)(nil)

// IsSpeech implements [vad.Classifier].
func (c *Classifier) IsSpeech(frame []byte) (bool, error) {
	if c.closed {
		return false, vad.ErrClosed
	}
	if err := c.cfg.CheckFrame(frame); err != nil {
		return false, err
	}

	level := audio.DBFS(audio.RMS(frame))
	threshold := max(c.profile.floorDBFS, c.noiseDBFS+c.profile.marginDB)
	speech := level > threshold && audio.ZeroCrossingRate(frame) <= c.profile.zcrCeiling

	if !speech {
		if level < c.noiseDBFS {
			c.noiseDBFS = level
		} else {
			c.noiseDBFS += (level - c.noiseDBFS) * c.adaptRate
		}
	}
	return speech, nil
}

// NoiseFloor returns the current background estimate in dBFS.
func (c *Classifier) NoiseFloor() float64 { return c.noiseDBFS }

// Reset restores the initial noise estimate.
func (c *Classifier) Reset() { c.noiseDBFS = initialNoiseDBFS }

// Close marks the classifier closed. Safe to call more than once.
func (c *Classifier) Close() error {
	c.closed = true
	return nil
}
