package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	berr "github.com/next-trace/scg-event-bus/contract/errors"
)

// payloadSnapshotLimit bounds how much of a payload is copied into error metadata.
const payloadSnapshotLimit = 256

// Event is an immutable record of one occurrence: who it is about (entity id),
// what kind it is (topic), and an opaque JSON payload.
type Event struct {
	id        string
	entityID  string
	topic     string
	payload   []byte
	timestamp time.Time
}

// New validates and builds an Event from fully specified fields.
// It is the constructor used when reconstructing events received off the wire.
func New(id, entityID, topic string, payload []byte, timestamp time.Time) (*Event, error) {
	md := berr.With("id", id).
		And("entity_id", entityID).
		And("topic", topic).
		And("payload", snapshot(payload)).
		And("timestamp", timestamp)

	switch {
	case id == "":
		return nil, berr.New(berr.ErrCodeInvalidEvent, "event id is empty", md)
	case entityID == "":
		return nil, berr.New(berr.ErrCodeInvalidEvent, "event entity_id is empty", md)
	case topic == "":
		return nil, berr.New(berr.ErrCodeInvalidEvent, "event topic is empty", md)
	case len(payload) == 0:
		return nil, berr.New(berr.ErrCodeInvalidEvent, "event payload is empty", md)
	}

	return &Event{
		id:        id,
		entityID:  entityID,
		topic:     topic,
		payload:   append([]byte(nil), payload...),
		timestamp: timestamp,
	}, nil
}

// Create serializes payload as JSON and stamps it with a fresh id and the current time.
func Create(entityID, topic string, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, berr.Wrap(
			berr.ErrCodePayloadSerialization,
			err,
			"could not serialize event payload",
			berr.With("entity_id", entityID).And("topic", topic).And("payload_type", typeName(payload)),
		)
	}

	return New(uuid.NewString(), entityID, topic, data, time.Now().UTC())
}

func (e *Event) ID() string           { return e.id }
func (e *Event) EntityID() string     { return e.entityID }
func (e *Event) Topic() string        { return e.topic }
func (e *Event) Timestamp() time.Time { return e.timestamp }

// Payload returns a copy of the serialized payload.
func (e *Event) Payload() []byte { return append([]byte(nil), e.payload...) }

// DeserializePayload decodes the payload into v.
func (e *Event) DeserializePayload(v any) error {
	if err := json.Unmarshal(e.payload, v); err != nil {
		return berr.Wrap(
			berr.ErrCodePayloadDeserialization,
			err,
			"could not deserialize event payload",
			berr.With("id", e.id).And("topic", e.topic).And("payload", snapshot(e.payload)),
		)
	}

	return nil
}

// String identifies the event in logs.
func (e *Event) String() string { return e.topic + "/" + e.id }

// PayloadAs decodes the payload of e into a new T.
func PayloadAs[T any](e *Event) (T, error) {
	var v T
	err := e.DeserializePayload(&v)

	return v, err
}

func snapshot(payload []byte) string {
	if len(payload) > payloadSnapshotLimit {
		return string(payload[:payloadSnapshotLimit]) + "..."
	}

	return string(payload)
}
