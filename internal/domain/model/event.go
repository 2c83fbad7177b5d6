package model

import "time"

// EventKind distinguishes the transitions a throttled request goes through.
type EventKind string

const (
	EventSend     EventKind = "send"
	EventWait     EventKind = "wait"
	EventResponse EventKind = "response"
	EventOutcome  EventKind = "outcome"
)

// WaitReason explains why the transport suspended.
type WaitReason string

const (
	WaitQuota      WaitReason = "quota"
	WaitRetryAfter WaitReason = "retry_after"
	WaitBackoff    WaitReason = "backoff"
)

// TransportEvent is emitted for every state transition of the throttled
// transport. Remaining is -1 while the quota is unknown. Candidate addresses
// and tokens never appear in events; Endpoint is a route label.
type TransportEvent struct {
	At        time.Time
	Kind      EventKind
	Method    string
	Endpoint  string
	Attempt   int
	Status    int
	Wait      time.Duration
	Reason    WaitReason
	Remaining int
	Outcome   string
	Err       string
}
