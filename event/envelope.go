package event

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	berr "github.com/next-trace/scg-event-bus/contract/errors"
)

// Envelope is the wire form of an Event shared by every broker adapter.
// Payload is base64 in JSON and Timestamp is RFC 3339 with nanoseconds.
type Envelope struct {
	ID        string    `json:"id"`
	EntityID  string    `json:"entity_id"`
	Topic     string    `json:"topic"`
	Payload   []byte    `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// EnvelopeOf copies e into its wire form.
func EnvelopeOf(e *Event) Envelope {
	return Envelope{
		ID:        e.id,
		EntityID:  e.entityID,
		Topic:     e.topic,
		Payload:   e.Payload(),
		Timestamp: e.timestamp,
	}
}

// Event rebuilds a validated Event from the envelope.
func (env Envelope) Event() (*Event, error) {
	return New(env.ID, env.EntityID, env.Topic, env.Payload, env.Timestamp)
}

// Marshal encodes e as a JSON envelope.
func Marshal(e *Event) ([]byte, error) {
	data, err := json.Marshal(EnvelopeOf(e))
	if err != nil {
		return nil, berr.Wrap(
			berr.ErrCodeEnvelopeSerialization,
			err,
			"could not serialize event envelope",
			berr.With("id", e.id).And("entity_id", e.entityID).And("topic", e.topic),
		)
	}

	return data, nil
}

// Unmarshal decodes a JSON envelope and validates the resulting Event.
func Unmarshal(data []byte) (*Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, berr.Wrap(
			berr.ErrCodeEnvelopeDeserialization,
			err,
			"could not deserialize event envelope",
			berr.With("data", snapshot(data)),
		)
	}

	return env.Event()
}

func typeName(v any) string {
	if v == nil {
		return "<nil>"
	}

	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	if t.Name() == "" || t.PkgPath() == "" {
		return t.String()
	}

	return fmt.Sprintf("%s.%s", t.PkgPath(), t.Name())
}
