package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	bitsPerSample = 16
	wavFormatPCM  = 1
)

// ErrNotWAV is returned by [DecodeWAV] for input that is not a RIFF/WAVE file.
var ErrNotWAV = errors.New("audio: not a wav file")

// EncodeWAV wraps 16-bit PCM in a RIFF/WAVE container entirely in memory.
func EncodeWAV(pcm []byte, f Format) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	n := len(pcm) / 2
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: f.Channels, SampleRate: f.SampleRate},
		Data:           make([]int, n),
		SourceBitDepth: bitsPerSample,
	}
	for i := range n {
		buf.Data[i] = int(sampleAt(pcm, i))
	}

	ws := &memFile{}
	enc := wav.NewEncoder(ws, f.SampleRate, bitsPerSample, f.Channels, wavFormatPCM)
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("audio: write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("audio: close wav encoder: %w", err)
	}
	return ws.buf, nil
}

// DecodeWAV extracts 16-bit PCM and its format from a WAV file.
func DecodeWAV(data []byte) ([]byte, Format, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, Format{}, ErrNotWAV
	}
	if dec.BitDepth != bitsPerSample {
		return nil, Format{}, fmt.Errorf("audio: unsupported wav bit depth %d", dec.BitDepth)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, Format{}, fmt.Errorf("audio: read wav: %w", err)
	}
	pcm := make([]byte, len(buf.Data)*2)
	for i, v := range buf.Data {
		putSample(pcm, i, int16(v))
	}
	return pcm, Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)}, nil
}

// memFile is an in-memory io.WriteSeeker; the wav encoder seeks back to
// patch chunk sizes on Close.
type memFile struct {
	buf []byte
	pos int
}

func (m *memFile) Write(p []byte) (int, error) {
	if end := m.pos + len(p); end > len(m.buf) {
		m.buf = append(m.buf, make([]byte, end-len(m.buf))...)
	}
	copy(m.buf[m.pos:], p)
	m.pos += len(p)
	return len(p), nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(m.pos) + offset
	case io.SeekEnd:
		abs = int64(len(m.buf)) + offset
	default:
		return 0, fmt.Errorf("audio: invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("audio: negative seek position %d", abs)
	}
	m.pos = int(abs)
	return abs, nil
}
