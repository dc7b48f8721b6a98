package server

import (
	"encoding/json"
	"fmt"
)

// Envelope is the wire framing for every event in either direction:
// a tagged event name plus an event-specific payload. Inbound frames that
// do not decode into a known envelope are dropped deterministically.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// encodeFrame marshals an outbound event into its wire form.
func encodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: raw})
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", event, err)
	}
	return frame, nil
}

// decodeFrame parses an inbound wire frame into its envelope.
func decodeFrame(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode frame: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("decode frame: missing event name")
	}
	return env, nil
}

// isCallSignal reports whether an event name belongs to the
// call-signaling relay.
func isCallSignal(event string) bool {
	switch event {
	case EventCallOffer, EventCallAnswer, EventCallDecline, EventCallEnd, EventICECandidate:
		return true
	}
	return false
}
