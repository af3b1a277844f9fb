// Package deepgram provides a Transcriber backed by the Deepgram live
// WebSocket API. Each Transcribe call opens one stream, sends the clip,
// asks Deepgram to flush with CloseStream and joins the final results.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/tasmi/pkg/audio"
	"github.com/MrWong99/tasmi/pkg/provider/stt"
)

const (
	// DefaultEndpoint is the Deepgram live transcription endpoint.
	DefaultEndpoint = "wss://api.deepgram.com/v1/listen"

	// DefaultModel is the default recognition model.
	DefaultModel = "nova-3"

	// chunkBytes is the size of one binary message, 250 ms of canonical audio.
	chunkBytes = 8000

	closeStream = `{"type":"CloseStream"}`
)

var _ stt.Transcriber = (*Transcriber)(nil)

// Option is a functional option for configuring the Deepgram Transcriber.
type Option func(*Transcriber)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(t *Transcriber) {
		if model != "" {
			t.model = model
		}
	}
}

// WithLanguage sets the fallback language used when a request carries no
// hint. Default: "ar".
func WithLanguage(language string) Option {
	return func(t *Transcriber) {
		if language != "" {
			t.language = language
		}
	}
}

// WithEndpoint overrides the WebSocket endpoint, e.g. for a regional or
// self-hosted deployment.
func WithEndpoint(endpoint string) Option {
	return func(t *Transcriber) {
		if endpoint != "" {
			t.endpoint = endpoint
		}
	}
}

// Transcriber implements stt.Transcriber backed by the Deepgram live API.
type Transcriber struct {
	apiKey   string
	endpoint string
	model    string
	language string
}

// New creates a new Deepgram Transcriber. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	t := &Transcriber{
		apiKey:   apiKey,
		endpoint: DefaultEndpoint,
		model:    DefaultModel,
		language: "ar",
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Transcribe implements stt.Transcriber. The clip's raw PCM is streamed;
// a clip carrying only WAV is decoded first.
func (t *Transcriber) Transcribe(ctx context.Context, clip audio.Clip, opts stt.Options) (stt.Transcript, error) {
	if err := stt.CheckClip(clip); err != nil {
		return stt.Transcript{}, err
	}
	pcm, format := clip.PCM, clip.Format()
	if len(pcm) == 0 {
		var err error
		if pcm, format, err = audio.DecodeWAV(clip.WAV); err != nil {
			return stt.Transcript{}, fmt.Errorf("deepgram: %w", err)
		}
	}

	lang := opts.Language
	if lang == "" {
		lang = t.language
	}
	wsURL, err := t.buildURL(format, lang, opts.Prompt)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+t.apiKey)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()

	var finals []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for off := 0; off < len(pcm); off += chunkBytes {
			end := min(off+chunkBytes, len(pcm))
			if err := conn.Write(gctx, websocket.MessageBinary, pcm[off:end]); err != nil {
				return fmt.Errorf("deepgram: send audio: %w", err)
			}
		}
		if err := conn.Write(gctx, websocket.MessageText, []byte(closeStream)); err != nil {
			return fmt.Errorf("deepgram: close stream: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		for {
			_, msg, err := conn.Read(gctx)
			if err != nil {
				if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
					return nil
				}
				return fmt.Errorf("deepgram: read: %w", err)
			}
			res, ok := parseResponse(msg)
			if !ok {
				continue
			}
			if res.done {
				conn.Close(websocket.StatusNormalClosure, "")
				return nil
			}
			if res.final && res.text != "" {
				finals = append(finals, res.text)
			}
		}
	})
	if err := g.Wait(); err != nil {
		return stt.Transcript{}, err
	}

	return stt.Transcript{
		Text:     strings.TrimSpace(strings.Join(finals, " ")),
		Language: lang,
		Duration: clip.Duration,
	}, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for one request.
func (t *Transcriber) buildURL(f audio.Format, lang, prompt string) (string, error) {
	u, err := url.Parse(t.endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", t.model)
	q.Set("language", lang)
	q.Set("encoding", "linear16")
	q.Set("interim_results", "false")
	q.Set("punctuate", "false")
	q.Set("sample_rate", strconv.Itoa(f.SampleRate))
	if f.Channels > 0 {
		q.Set("channels", strconv.Itoa(f.Channels))
	}
	// The prompt is usually the expected word; boost it as a keyword.
	for _, kw := range strings.Fields(prompt) {
		q.Add("keywords", kw)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// response is the subset of a Deepgram message the transcriber reads.
type response struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type result struct {
	text  string
	final bool
	done  bool
}

// parseResponse interprets one Deepgram message. Metadata marks the end of
// the stream after CloseStream; unknown message types are ignored.
func parseResponse(data []byte) (result, bool) {
	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		return result{}, false
	}
	switch resp.Type {
	case "Metadata":
		return result{done: true}, true
	case "Results":
	default:
		return result{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return result{}, false
	}
	return result{
		text:  strings.TrimSpace(resp.Channel.Alternatives[0].Transcript),
		final: resp.IsFinal,
	}, true
}
