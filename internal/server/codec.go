package server

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MrWong99/tasmi/internal/recitation"
)

// Control message types accepted as WebSocket text messages.
const (
	TypeInit  = "init"
	TypeReset = "reset"
)

// ErrUnknownMessage is returned by [DecodeControl] for an unrecognised type.
var ErrUnknownMessage = errors.New("server: unknown message type")

// Control is an inbound text message.
type Control struct {
	Type  string `json:"type"`
	Surah int    `json:"surah,omitempty"`
	Ayah  int    `json:"ayah,omitempty"`
}

// DecodeControl parses and validates an inbound text message.
func DecodeControl(data []byte) (Control, error) {
	var c Control
	if err := json.Unmarshal(data, &c); err != nil {
		return Control{}, fmt.Errorf("server: decode message: %w", err)
	}
	switch c.Type {
	case TypeInit:
		if c.Surah <= 0 || c.Ayah <= 0 {
			return Control{}, fmt.Errorf("server: init needs positive surah and ayah, got %d:%d", c.Surah, c.Ayah)
		}
	case TypeReset:
	default:
		return Control{}, fmt.Errorf("%w %q", ErrUnknownMessage, c.Type)
	}
	return c, nil
}

type wireStarted struct {
	Type                   string   `json:"type"`
	Surah                  int      `json:"surah"`
	Ayah                   int      `json:"ayah"`
	ExpectedSimple         []string `json:"expected_words_simple"`
	ExpectedWithDiacritics []string `json:"expected_words_with_diacritics"`
	TotalWords             int      `json:"total_words"`
}

type wireWord struct {
	Type                   string  `json:"type"`
	WordIndex              int     `json:"word_index"`
	ExpectedSimple         string  `json:"expected_simple"`
	ExpectedWithDiacritics string  `json:"expected_with_diacritics"`
	Transcribed            string  `json:"transcribed"`
	ExpectedNormalized     string  `json:"expected_normalized"`
	UserNormalized         string  `json:"user_normalized"`
	Similarity             float64 `json:"similarity"`
	EditDistance           int     `json:"edit_distance"`
	Status                 string  `json:"status"`
	Color                  string  `json:"color"`
	Message                string  `json:"message"`
	Exhausted              bool    `json:"exhausted,omitempty"`
}

type wireError struct {
	Type      string `json:"type"`
	WordIndex *int   `json:"word_index,omitempty"`
	Stage     string `json:"stage,omitempty"`
	Message   string `json:"message"`
	Exhausted bool   `json:"exhausted,omitempty"`
}

type wireComplete struct {
	Type            string     `json:"type"`
	TotalWords      int        `json:"total_words"`
	CorrectWords    int        `json:"correct_words"`
	OverallAccuracy float64    `json:"overall_accuracy"`
	Results         []wireWord `json:"results"`
}

type wireNotice struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func toWireWord(r recitation.WordResult) wireWord {
	return wireWord{
		Type:                   r.Kind(),
		WordIndex:              r.WordIndex,
		ExpectedSimple:         r.ExpectedSimple,
		ExpectedWithDiacritics: r.ExpectedWithDiacritics,
		Transcribed:            r.Verdict.Transcribed,
		ExpectedNormalized:     r.Verdict.ExpectedNormalized,
		UserNormalized:         r.Verdict.TranscribedNormalized,
		Similarity:             r.Verdict.Similarity,
		EditDistance:           r.Verdict.EditDistance,
		Status:                 string(r.Verdict.Status),
		Color:                  string(r.Verdict.Color),
		Message:                r.Verdict.Message,
		Exhausted:              r.Exhausted,
	}
}

// EncodeEvent renders a session event as a JSON object with a "type" field.
func EncodeEvent(ev recitation.Event) ([]byte, error) {
	var v any
	switch e := ev.(type) {
	case recitation.SessionStarted:
		v = wireStarted{
			Type:                   e.Kind(),
			Surah:                  e.Surah,
			Ayah:                   e.Ayah,
			ExpectedSimple:         e.ExpectedSimple,
			ExpectedWithDiacritics: e.ExpectedWithDiacritics,
			TotalWords:             e.TotalWords,
		}
	case recitation.WordResult:
		v = toWireWord(e)
	case recitation.Error:
		idx := e.WordIndex
		v = wireError{Type: e.Kind(), WordIndex: &idx, Stage: string(e.Stage), Message: e.Message, Exhausted: e.Exhausted}
	case recitation.SessionComplete:
		out := wireComplete{
			Type:            e.Kind(),
			TotalWords:      e.Stats.TotalWords,
			CorrectWords:    e.Stats.CorrectWords,
			OverallAccuracy: e.Stats.OverallAccuracy,
			Results:         make([]wireWord, len(e.Results)),
		}
		for i, r := range e.Results {
			out.Results[i] = toWireWord(r)
		}
		v = out
	case recitation.CompleteNotice:
		v = wireNotice{Type: e.Kind(), Message: e.Message}
	default:
		return nil, fmt.Errorf("server: cannot encode event %T", ev)
	}
	return json.Marshal(v)
}

// encodeProtocolError renders a connection-level error that is not tied to
// a word, such as a bad control message or a failed init.
func encodeProtocolError(msg string) []byte {
	b, _ := json.Marshal(wireError{Type: "error", Message: msg})
	return b
}
