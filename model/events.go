package model

import (
	"encoding/json"
	"time"

	"github.com/cyverse-de/inquiry-notifier/common"
	"github.com/pkg/errors"
)

// EventName is the name an event carries on the push channel.
type EventName string

const (
	// UnreadCountUpdateEvent is the wire name of a SnapshotEvent.
	UnreadCountUpdateEvent EventName = "unreadCountUpdate"

	// NewInquiryEventName is the wire name of a NewInquiryEvent.
	NewInquiryEventName EventName = "newInquiry"
)

// ErrUnknownEvent is returned when a push frame names an event that this package doesn't know about.
var ErrUnknownEvent = errors.New("unknown event")

// Event is implemented by every event that can be sent over the push channel.
type Event interface {
	EventName() EventName
	EventTime() time.Time
}

// SnapshotEvent carries the unread count as recomputed from the store at Timestamp.
type SnapshotEvent struct {
	UnreadCount int64
	Timestamp   time.Time
}

// EventName returns the wire name of the event.
func (e SnapshotEvent) EventName() EventName { return UnreadCountUpdateEvent }

// EventTime returns the time at which the snapshot was taken.
func (e SnapshotEvent) EventTime() time.Time { return e.Timestamp }

// NewInquiryEvent announces an inquiry that was created after the receiving client connected.
type NewInquiryEvent struct {
	Inquiry   Inquiry
	Timestamp time.Time
}

// EventName returns the wire name of the event.
func (e NewInquiryEvent) EventName() EventName { return NewInquiryEventName }

// EventTime returns the time at which the inquiry was announced.
func (e NewInquiryEvent) EventTime() time.Time { return e.Timestamp }

type envelope struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type snapshotPayload struct {
	UnreadCount int64  `json:"unreadCount"`
	Timestamp   string `json:"timestamp"`
}

type newInquiryPayload struct {
	Inquiry   Inquiry `json:"inquiry"`
	Timestamp string  `json:"timestamp"`
}

// EncodeEvent serializes an event into a single push frame.
func EncodeEvent(event Event) ([]byte, error) {
	wrapMsg := "unable to encode event"

	var payload interface{}
	switch e := event.(type) {
	case SnapshotEvent:
		payload = snapshotPayload{UnreadCount: e.UnreadCount, Timestamp: common.FormatTimestamp(e.Timestamp)}
	case NewInquiryEvent:
		payload = newInquiryPayload{Inquiry: e.Inquiry, Timestamp: common.FormatTimestamp(e.Timestamp)}
	default:
		return nil, errors.Wrapf(ErrUnknownEvent, "%s: %T", wrapMsg, event)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}
	frame, err := json.Marshal(envelope{Event: event.EventName(), Data: data})
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}
	return frame, nil
}

// DecodeEvent parses a single push frame.
func DecodeEvent(frame []byte) (Event, error) {
	wrapMsg := "unable to decode event"

	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}

	switch env.Event {
	case UnreadCountUpdateEvent:
		var payload snapshotPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, errors.Wrap(err, wrapMsg)
		}
		timestamp, err := common.ParseTimestamp(payload.Timestamp)
		if err != nil {
			return nil, errors.Wrap(err, wrapMsg)
		}
		return SnapshotEvent{UnreadCount: payload.UnreadCount, Timestamp: timestamp}, nil

	case NewInquiryEventName:
		var payload newInquiryPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, errors.Wrap(err, wrapMsg)
		}
		if payload.Inquiry.ID == "" {
			return nil, errors.Errorf("%s: inquiry has no id", wrapMsg)
		}
		timestamp, err := common.ParseTimestamp(payload.Timestamp)
		if err != nil {
			return nil, errors.Wrap(err, wrapMsg)
		}
		return NewInquiryEvent{Inquiry: payload.Inquiry, Timestamp: timestamp}, nil

	default:
		return nil, errors.Wrapf(ErrUnknownEvent, "%s: %q", wrapMsg, env.Event)
	}
}
