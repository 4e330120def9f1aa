// Package pipeline carries completed voice transcripts from the call
// handler to the fulfillment consumer that books appointments from them.
package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tunminster/by-the-app-demo/internal/apperr"
)

const (
	ResponseTypeAI                  = "AI_RESPONSE"
	ResponseTypePatientCreation     = "PATIENT_CREATION"
	ResponseTypeBookingConfirmation = "BOOKING_CONFIRMATION"
)

var ErrInvalidEvent = fmt.Errorf("%w: malformed transcript event", apperr.ErrInvalid)

// TranscriptEvent is the queued wire record. CallID is also the queue key.
type TranscriptEvent struct {
	CallID       string         `json:"call_id"`
	ResponseType string         `json:"response_type"`
	Data         TranscriptData `json:"data"`
	Metadata     map[string]any `json:"metadata"`

	// Directive is the raw data object of a PATIENT_CREATION or
	// BOOKING_CONFIRMATION event, which carries the directive directly
	// instead of a transcript.
	Directive json.RawMessage `json:"-"`
}

type TranscriptData struct {
	RawText      string          `json:"raw_text"`
	FullResponse json.RawMessage `json:"full_response"`
	Timestamp    string          `json:"timestamp"` // RFC 3339
}

func (e TranscriptEvent) Key() string {
	return e.CallID
}

var emptyObject = json.RawMessage(`{}`)

// Encode renders the wire record. full_response and metadata are always
// present, as empty objects when unset.
func (e TranscriptEvent) Encode() ([]byte, error) {
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	if len(e.Directive) == 0 {
		if len(e.Data.FullResponse) == 0 {
			e.Data.FullResponse = emptyObject
		}
		return json.Marshal(e)
	}
	return json.Marshal(struct {
		CallID       string          `json:"call_id"`
		ResponseType string          `json:"response_type"`
		Data         json.RawMessage `json:"data"`
		Metadata     map[string]any  `json:"metadata"`
	}{e.CallID, e.ResponseType, e.Directive, e.Metadata})
}

func DecodeEvent(raw []byte) (TranscriptEvent, error) {
	var env struct {
		CallID       string          `json:"call_id"`
		ResponseType string          `json:"response_type"`
		Data         json.RawMessage `json:"data"`
		Metadata     map[string]any  `json:"metadata"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return TranscriptEvent{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	ev := TranscriptEvent{
		CallID:       strings.TrimSpace(env.CallID),
		ResponseType: strings.TrimSpace(env.ResponseType),
		Metadata:     env.Metadata,
	}
	if ev.CallID == "" {
		return TranscriptEvent{}, fmt.Errorf("%w: call_id is required", ErrInvalidEvent)
	}

	switch ev.ResponseType {
	case ResponseTypePatientCreation, ResponseTypeBookingConfirmation:
		ev.Directive = env.Data
	default:
		if len(env.Data) > 0 && string(env.Data) != "null" {
			if err := json.Unmarshal(env.Data, &ev.Data); err != nil {
				return TranscriptEvent{}, fmt.Errorf("%w: data: %v", ErrInvalidEvent, err)
			}
		}
	}
	return ev, nil
}
