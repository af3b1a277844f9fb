package audio

import (
	"encoding/binary"
	"math"
)

// SilenceDBFS is the level reported for digital silence or empty input.
const SilenceDBFS = -100.0

// RMS returns the root-mean-square energy of 16-bit signed little-endian PCM
// in sample units (0–32767). Returns 0 for buffers shorter than one sample.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// DBFS converts an RMS value in sample units to decibels relative to full
// scale. Values at or below the noise floor of 16-bit audio clamp to
// [SilenceDBFS].
func DBFS(rms float64) float64 {
	if rms <= 0 {
		return SilenceDBFS
	}
	db := 20 * math.Log10(rms/32768.0)
	if db < SilenceDBFS {
		return SilenceDBFS
	}
	return db
}

// ZeroCrossingRate returns the fraction of adjacent sample pairs whose sign
// differs, in [0, 1]. Voiced speech sits well below broadband hiss.
func ZeroCrossingRate(pcm []byte) float64 {
	n := len(pcm) / 2
	if n < 2 {
		return 0
	}
	crossings := 0
	prev := int16(binary.LittleEndian.Uint16(pcm))
	for i := 1; i < n; i++ {
		cur := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		if (prev >= 0) != (cur >= 0) {
			crossings++
		}
		prev = cur
	}
	return float64(crossings) / float64(n-1)
}

// Peak returns the largest absolute sample value in pcm.
func Peak(pcm []byte) int {
	peak := 0
	for i := 0; i+1 < len(pcm); i += 2 {
		v := int(int16(binary.LittleEndian.Uint16(pcm[i:])))
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	return peak
}
