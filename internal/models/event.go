package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EventType is the tag carried by every message on the employee topic.
type EventType string

const (
	EventEmployeeAdded       EventType = "EmployeeAdded"
	EventEmployeeDeleted     EventType = "EmployeeDeleted"
	EventEmployeeTerminated  EventType = "EmployeeTerminated"
	EventIntimationCreated   EventType = "IntimationCreated"
	EventIntimationUpdated   EventType = "IntimationUpdated"
	EventIntimationCancelled EventType = "IntimationCancelled"
)

// Producers tag events as e.g. "IntimationCreatedKafkaEvent".
const kafkaEventSuffix = "KafkaEvent"

// ParseEventType accepts both the producer's long tags and the short form.
func ParseEventType(raw string) EventType {
	return EventType(strings.TrimSuffix(strings.TrimSpace(raw), kafkaEventSuffix))
}

// Known reports whether the notifier acts on this event type.
func (t EventType) Known() bool {
	switch t {
	case EventEmployeeAdded, EventEmployeeDeleted, EventEmployeeTerminated,
		EventIntimationCreated, EventIntimationUpdated, EventIntimationCancelled:
		return true
	default:
		return false
	}
}

// IsIntimation reports whether the event leads to a notification.
func (t EventType) IsIntimation() bool {
	return t == EventIntimationCreated || t == EventIntimationUpdated || t == EventIntimationCancelled
}

// IntimationKind distinguishes the three intimation lifecycle events.
type IntimationKind string

const (
	IntimationCreated   IntimationKind = "Created"
	IntimationUpdated   IntimationKind = "Updated"
	IntimationCancelled IntimationKind = "Cancelled"
)

// HalfDayStatus is where an employee spends one half of a working day.
type HalfDayStatus string

const (
	StatusWFO   HalfDayStatus = "WFO"
	StatusWFH   HalfDayStatus = "WFH"
	StatusLeave HalfDayStatus = "Leave"
)

func (s HalfDayStatus) Valid() bool {
	return s == StatusWFO || s == StatusWFH || s == StatusLeave
}

// DateLayout is the calendar date format used by intimation requests.
const DateLayout = "2006-01-02"

// IntimationRequest covers a single day of an intimation.
type IntimationRequest struct {
	Date       string        `json:"date"`
	FirstHalf  HalfDayStatus `json:"firstHalf"`
	SecondHalf HalfDayStatus `json:"secondHalf"`
}

// IntimationEvent is a decoded intimation message. Only the first request
// drives the notification wording.
type IntimationEvent struct {
	EmployeeID   int64
	Reason       string
	LastModified time.Time
	Requests     []IntimationRequest
	Kind         IntimationKind
}

// Event is a decoded message from the employee topic. Intimation is set only
// for intimation event types.
type Event struct {
	Type       EventType
	EmployeeID int64
	Name       string
	Intimation *IntimationEvent
}

type rawEvent struct {
	Type         string              `json:"type"`
	ID           *int64              `json:"id"`
	Name         string              `json:"name"`
	Reason       string              `json:"reason"`
	LastModified Timestamp           `json:"lastModified"`
	Requests     []IntimationRequest `json:"requests"`
}

// DecodeEvent parses a broker message. Unknown event types decode without
// error so the caller can skip them; anything else that does not fit the
// expected shape yields ErrMalformedEvent.
func DecodeEvent(body []byte) (*Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	if strings.TrimSpace(raw.Type) == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}

	evt := &Event{Type: ParseEventType(raw.Type)}
	if !evt.Type.Known() {
		return evt, nil
	}
	if raw.ID == nil {
		return nil, fmt.Errorf("%w: %s without id", ErrMalformedEvent, evt.Type)
	}
	evt.EmployeeID = *raw.ID

	switch evt.Type {
	case EventEmployeeAdded:
		if strings.TrimSpace(raw.Name) == "" {
			return nil, fmt.Errorf("%w: %s without name", ErrMalformedEvent, evt.Type)
		}
		evt.Name = raw.Name
	case EventEmployeeDeleted, EventEmployeeTerminated:
	default:
		for i, req := range raw.Requests {
			if err := req.validate(); err != nil {
				return nil, fmt.Errorf("%w: request %d: %w", ErrMalformedEvent, i, err)
			}
		}
		evt.Intimation = &IntimationEvent{
			EmployeeID:   evt.EmployeeID,
			Reason:       raw.Reason,
			LastModified: raw.LastModified.Time,
			Requests:     raw.Requests,
			Kind:         kindOf(evt.Type),
		}
	}
	return evt, nil
}

func (r IntimationRequest) validate() error {
	if _, err := time.Parse(DateLayout, r.Date); err != nil {
		return fmt.Errorf("invalid date %q", r.Date)
	}
	if !r.FirstHalf.Valid() {
		return fmt.Errorf("invalid firstHalf %q", r.FirstHalf)
	}
	if !r.SecondHalf.Valid() {
		return fmt.Errorf("invalid secondHalf %q", r.SecondHalf)
	}
	return nil
}

func kindOf(t EventType) IntimationKind {
	switch t {
	case EventIntimationUpdated:
		return IntimationUpdated
	case EventIntimationCancelled:
		return IntimationCancelled
	default:
		return IntimationCreated
	}
}

// Timestamp accepts the lastModified encodings seen on the topic: RFC 3339,
// a zone-less local date-time, or epoch milliseconds.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		return nil
	}
	if s[0] != '"' {
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid timestamp %s", s)
		}
		t.Time = time.UnixMilli(ms)
		return nil
	}

	str, err := strconv.Unquote(s)
	if err != nil {
		return fmt.Errorf("invalid timestamp %s", s)
	}
	if str == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.ParseInLocation(layout, str, time.Local); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", str)
}
