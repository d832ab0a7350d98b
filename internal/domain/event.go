package domain

import (
	"fmt"
	"time"
)

// SourceHealthChecker is the log source used for rows written by the cycle.
const SourceHealthChecker = "health-checker"

// EventServiceStatusChange is the wire type of a transition broadcast.
const EventServiceStatusChange = "service_status_change"

// TransitionEvent records a change of health state between two completed
// probes of the same target.
type TransitionEvent struct {
	TargetID       TargetID
	TargetName     string
	OldStatus      Status
	NewStatus      Status
	ResponseTimeMS *float64
	Timestamp      time.Time
}

// DetectTransition returns the event for a probe that moved t from prev to
// u.Status. The first probe of a target (prev unknown) is never a transition.
func DetectTransition(t Target, prev Status, u TargetUpdate) (TransitionEvent, bool) {
	if prev == StatusUnknown || prev == "" || prev == u.Status {
		return TransitionEvent{}, false
	}
	return TransitionEvent{
		TargetID:       t.ID,
		TargetName:     t.Name,
		OldStatus:      prev,
		NewStatus:      u.Status,
		ResponseTimeMS: u.ResponseTimeMS,
		Timestamp:      u.CheckedAt,
	}, true
}

// LogEntry derives the log row written alongside the transition.
func (e TransitionEvent) LogEntry() LogEntry {
	return LogEntry{
		Timestamp: e.Timestamp,
		Level:     LevelFor(e.NewStatus),
		Source:    SourceHealthChecker,
		Message:   fmt.Sprintf("Service '%s' changed status: %s -> %s.", e.TargetName, e.OldStatus, e.NewStatus),
	}
}

// WireEvent is the JSON payload pushed to live subscribers.
type WireEvent struct {
	Type      string   `json:"type"`
	Timestamp string   `json:"timestamp"`
	Data      WireData `json:"data"`
}

type WireData struct {
	ServiceName    string   `json:"service_name"`
	OldStatus      Status   `json:"old_status"`
	NewStatus      Status   `json:"new_status"`
	ResponseTimeMS *float64 `json:"response_time_ms"`
}

// Wire converts e to its broadcast shape.
func (e TransitionEvent) Wire() WireEvent {
	return WireEvent{
		Type:      EventServiceStatusChange,
		Timestamp: e.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
		Data: WireData{
			ServiceName:    e.TargetName,
			OldStatus:      e.OldStatus,
			NewStatus:      e.NewStatus,
			ResponseTimeMS: e.ResponseTimeMS,
		},
	}
}

// LogEntry is one row of the operational log.
type LogEntry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Source    string    `json:"source"`
	Message   string    `json:"message"`
	Metadata  *string   `json:"metadata_json"`
}
