// Package wire encodes and decodes the array-framed relay protocol messages.
//
// Every frame is a JSON array whose first element is a label string, e.g.
// ["AUTH","<challenge>"] or ["OK","<id>",true,""].
package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/avolkovv/relaypub/internal/model"
)

// Frame labels.
const (
	LabelReq    = "REQ"
	LabelAuth   = "AUTH"
	LabelEvent  = "EVENT"
	LabelOK     = "OK"
	LabelEOSE   = "EOSE"
	LabelClosed = "CLOSED"
)

// ErrMalformed is returned for frames that are not a JSON array with a label.
var ErrMalformed = errors.New("malformed relay frame")

// ErrUnknownLabel is returned for well-formed frames with an unrecognized label.
var ErrUnknownLabel = errors.New("unknown frame label")

// Envelope is one decoded inbound or encodable outbound frame.
type Envelope interface {
	Label() string
}

// ReqEnvelope is the outbound read request ["REQ", subID, filter].
type ReqEnvelope struct {
	SubscriptionID string
	Filter         Filter
}

// Filter is the subscription filter object carried by a REQ.
type Filter struct {
	Kinds   []int    `json:"kinds,omitempty"`
	Authors []string `json:"authors,omitempty"`
	Limit   int      `json:"limit,omitempty"`
}

func (e ReqEnvelope) Label() string { return LabelReq }

func (e ReqEnvelope) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{LabelReq, e.SubscriptionID, e.Filter})
}

// ChallengeEnvelope is the inbound ["AUTH", challenge] control frame.
type ChallengeEnvelope struct {
	Challenge string
}

func (e ChallengeEnvelope) Label() string { return LabelAuth }

// AuthEnvelope is the outbound ["AUTH", signedProofEvent] control frame.
type AuthEnvelope struct {
	Event *model.Event
}

func (e AuthEnvelope) Label() string { return LabelAuth }

func (e AuthEnvelope) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{LabelAuth, e.Event})
}

// EventEnvelope is the outbound ["EVENT", signedEvent] write frame.
type EventEnvelope struct {
	Event *model.Event
}

func (e EventEnvelope) Label() string { return LabelEvent }

func (e EventEnvelope) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{LabelEvent, e.Event})
}

// OKEnvelope is the inbound ["OK", eventID, accepted, reason] result frame. The
// event ID is the correlation identifier for the operation that produced it.
type OKEnvelope struct {
	EventID string
	OK      bool
	Reason  string
}

func (e OKEnvelope) Label() string { return LabelOK }

// EOSEEnvelope is the inbound ["EOSE", subID] end-of-stored-events marker for
// the trigger subscription. Informational only.
type EOSEEnvelope struct {
	SubscriptionID string
}

func (e EOSEEnvelope) Label() string { return LabelEOSE }

// ClosedEnvelope is the inbound ["CLOSED", subID, reason] advisory.
type ClosedEnvelope struct {
	SubscriptionID string
	Reason         string
}

func (e ClosedEnvelope) Label() string { return LabelClosed }

// Encode renders an outbound envelope to its frame bytes.
func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// Decode parses one inbound frame. Frames with an unknown label return
// ErrUnknownLabel so callers can skip them without treating the connection as
// broken.
func Decode(data []byte) (Envelope, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(arr) < 2 {
		return nil, fmt.Errorf("%w: %d elements", ErrMalformed, len(arr))
	}

	var label string
	if err := json.Unmarshal(arr[0], &label); err != nil {
		return nil, fmt.Errorf("%w: non-string label", ErrMalformed)
	}

	switch label {
	case LabelAuth:
		var challenge string
		if err := json.Unmarshal(arr[1], &challenge); err != nil {
			return nil, fmt.Errorf("%w: AUTH payload", ErrMalformed)
		}
		return ChallengeEnvelope{Challenge: challenge}, nil

	case LabelOK:
		if len(arr) < 3 {
			return nil, fmt.Errorf("%w: OK needs id and flag", ErrMalformed)
		}
		var env OKEnvelope
		if err := json.Unmarshal(arr[1], &env.EventID); err != nil {
			return nil, fmt.Errorf("%w: OK id", ErrMalformed)
		}
		if err := json.Unmarshal(arr[2], &env.OK); err != nil {
			return nil, fmt.Errorf("%w: OK flag", ErrMalformed)
		}
		if len(arr) > 3 {
			if err := json.Unmarshal(arr[3], &env.Reason); err != nil {
				return nil, fmt.Errorf("%w: OK reason", ErrMalformed)
			}
		}
		return env, nil

	case LabelEOSE:
		var env EOSEEnvelope
		if err := json.Unmarshal(arr[1], &env.SubscriptionID); err != nil {
			return nil, fmt.Errorf("%w: EOSE id", ErrMalformed)
		}
		return env, nil

	case LabelClosed:
		var env ClosedEnvelope
		if err := json.Unmarshal(arr[1], &env.SubscriptionID); err != nil {
			return nil, fmt.Errorf("%w: CLOSED id", ErrMalformed)
		}
		if len(arr) > 2 {
			if err := json.Unmarshal(arr[2], &env.Reason); err != nil {
				return nil, fmt.Errorf("%w: CLOSED reason", ErrMalformed)
			}
		}
		return env, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownLabel, label)
	}
}
