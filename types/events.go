package types

import "time"

// EventTypeVideoLoss is the device keep-alive/link-status event type.
// These events are never relayed.
const EventTypeVideoLoss = "videoloss"

// NormalizedEvent is the subset of a device event relevant to the relay.
// Optional fields are empty when the device omitted them.
type NormalizedEvent struct {
	// EventType is the top-level eventType field.
	EventType string `json:"eventType" msgpack:"event_type"`
	// EventState is the top-level eventState field (e.g. "active").
	EventState string `json:"eventState,omitempty" msgpack:"event_state,omitempty"`
	// Description is the top-level eventDescription field.
	Description string `json:"eventDescription,omitempty" msgpack:"description,omitempty"`
	// IPAddress is the reporting device address.
	IPAddress string `json:"ipAddress,omitempty" msgpack:"ip_address,omitempty"`
	// OccurredAt is the device dateTime, passed through verbatim.
	OccurredAt string `json:"dateTime,omitempty" msgpack:"occurred_at,omitempty"`
	// EmployeeID is AccessControllerEvent.employeeNoString.
	// Empty means the event is observed but not delivered.
	EmployeeID string `json:"employeeNoString,omitempty" msgpack:"employee_id,omitempty"`

	// Observational fields from AccessControllerEvent, never relayed.
	CardNo         string `json:"cardNo,omitempty" msgpack:"card_no,omitempty"`
	UserType       string `json:"userType,omitempty" msgpack:"user_type,omitempty"`
	MajorEventType int    `json:"majorEventType,omitempty" msgpack:"major_event_type,omitempty"`
	SubEventType   int    `json:"subEventType,omitempty" msgpack:"sub_event_type,omitempty"`
}

// Eligible reports whether the event may be handed to the delivery queue.
func (e *NormalizedEvent) Eligible() bool {
	return e != nil && e.EmployeeID != ""
}

// RelayPayload is the JSON body posted downstream.
type RelayPayload struct {
	EmployeeNoString string `json:"employeeNoString"`
	IPAddress        string `json:"ipAddress"`
	DateTime         string `json:"dateTime"`
}

// Payload returns the downstream body for this event.
func (e *NormalizedEvent) Payload() RelayPayload {
	return RelayPayload{
		EmployeeNoString: e.EmployeeID,
		IPAddress:        e.IPAddress,
		DateTime:         e.OccurredAt,
	}
}

// DeliveryTask tracks one eligible event through the delivery queue.
// Owned by a single delivery worker; never shared.
type DeliveryTask struct {
	ID             string          `msgpack:"id"`
	Event          NormalizedEvent `msgpack:"event"`
	Attempt        int             `msgpack:"attempt"`
	NextEligibleAt time.Time       `msgpack:"next_eligible_at"`
	EnqueuedAt     time.Time       `msgpack:"enqueued_at"`
}
