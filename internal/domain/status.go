package domain

import (
	"encoding/json"
	"fmt"
)

// Status is the order lifecycle state. Serialization is an explicit mapping,
// not a round-trip through display names.
type Status int

const (
	StatusPending Status = iota
	StatusPreparing
	StatusReady
	StatusServed
	StatusCompleted
	StatusCancelled
	StatusRefunded
)

var statusNames = map[Status]string{
	StatusPending:   "pending",
	StatusPreparing: "preparing",
	StatusReady:     "ready",
	StatusServed:    "served",
	StatusCompleted: "completed",
	StatusCancelled: "cancelled",
	StatusRefunded:  "refunded",
}

var statusValues = func() map[string]Status {
	m := make(map[string]Status, len(statusNames))
	for s, n := range statusNames {
		m[n] = s
	}
	return m
}()

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status(%d)", int(s))
}

func ParseStatus(s string) (Status, error) {
	if v, ok := statusValues[s]; ok {
		return v, nil
	}
	return 0, fmt.Errorf("unknown order status %q", s)
}

// StatusNames lists every recognized serialized form.
func StatusNames() []string {
	return []string{"pending", "preparing", "ready", "served", "completed", "cancelled", "refunded"}
}

// Terminal statuses close active-list membership. Terminal orders stay
// mutable for one correction: payment settlement into completed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusRefunded
}

// CanTransitionTo reports whether s -> next is a legal lifecycle move.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return false
	}
	if s.Terminal() {
		return next == StatusCompleted
	}
	switch next {
	case StatusCancelled, StatusRefunded:
		return true
	case StatusPreparing:
		return s == StatusPending
	case StatusReady:
		return s == StatusPreparing
	case StatusServed:
		return s == StatusReady
	case StatusCompleted:
		return s == StatusServed
	default:
		return false
	}
}

func (s Status) MarshalJSON() ([]byte, error) {
	n, ok := statusNames[s]
	if !ok {
		return nil, fmt.Errorf("cannot marshal unknown status %d", int(s))
	}
	return json.Marshal(n)
}

func (s *Status) UnmarshalJSON(b []byte) error {
	var n string
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	v, err := ParseStatus(n)
	if err != nil {
		return err
	}
	*s = v
	return nil
}
