package bindings

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/oriys/pulsar/internal/protocol"
)

// TimerRequest is the decoded form of a timer trigger.
type TimerRequest struct {
	PastDue        bool           `json:"IsPastDue"`
	ScheduleStatus ScheduleStatus `json:"ScheduleStatus"`
}

type ScheduleStatus struct {
	Last        time.Time `json:"Last"`
	Next        time.Time `json:"Next"`
	LastUpdated time.Time `json:"LastUpdated"`
}

// TimerCodec decodes timer triggers. Timers have no outputs.
type TimerCodec struct{}

func (TimerCodec) Decode(data protocol.TypedData, _ map[string]protocol.TypedData, native NativeType) (any, error) {
	if native != NativeAny {
		return nil, fmt.Errorf("%w: timer binding decodes to *TimerRequest only", ErrUnsupportedType)
	}
	raw, ok := payload(data)
	if !ok {
		return nil, fmt.Errorf("%w: timer payload of type %q", ErrUnsupportedType, data.Type())
	}
	var tr TimerRequest
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, fmt.Errorf("parse timer payload: %w", err)
	}
	return &tr, nil
}

func (TimerCodec) Encode(v any, _ NativeType) (protocol.TypedData, error) {
	return protocol.TypedData{}, fmt.Errorf("%w: timer binding has no output form", ErrUnsupportedType)
}
