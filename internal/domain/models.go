package domain

import "time"

type TargetID string

// CheckKind selects the probe strategy used for a target.
type CheckKind string

const (
	KindHTTP CheckKind = "http"
	KindPing CheckKind = "ping"
	KindTCP  CheckKind = "tcp"
)

// Valid reports whether k is one of the supported check kinds.
func (k CheckKind) Valid() bool {
	switch k {
	case KindHTTP, KindPing, KindTCP:
		return true
	}
	return false
}

// Target is a monitored endpoint. Status, ResponseTimeMS and LastChecked are
// owned by the health check cycle; everything else by the CRUD layer.
type Target struct {
	ID             TargetID   `json:"id"`
	Name           string     `json:"name"`
	URL            string     `json:"url"`
	Kind           CheckKind  `json:"check_type"`
	ExpectedStatus int        `json:"expected_status"`
	Status         Status     `json:"status"`
	ResponseTimeMS *float64   `json:"response_time_ms"`
	LastChecked    *time.Time `json:"last_checked"`
	Active         bool       `json:"is_active"`
	CreatedAt      time.Time  `json:"created_at"`
}

// TargetUpdate carries the probe-owned fields of a target. They are always
// written together.
type TargetUpdate struct {
	ID             TargetID
	Status         Status
	ResponseTimeMS *float64
	CheckedAt      time.Time
}

// Apply copies the probe-owned fields onto t.
func (u TargetUpdate) Apply(t *Target) {
	t.Status = u.Status
	t.ResponseTimeMS = u.ResponseTimeMS
	checked := u.CheckedAt
	t.LastChecked = &checked
}

// ProbeOutcome is the normalized result of one probe. A nil ResponseTimeMS
// means no latency was observed.
type ProbeOutcome struct {
	Status         Status   `json:"status"`
	ResponseTimeMS *float64 `json:"response_time_ms"`
}

// Offline is the outcome every failed probe resolves to.
func Offline() ProbeOutcome {
	return ProbeOutcome{Status: StatusOffline}
}

// Stats summarizes the current state of all targets.
type Stats struct {
	Total             int     `json:"total"`
	Online            int     `json:"online"`
	Offline           int     `json:"offline"`
	Degraded          int     `json:"degraded"`
	Unknown           int     `json:"unknown"`
	AvgResponseTimeMS float64 `json:"avg_response_time_ms"`
	OnlinePercentage  float64 `json:"online_percentage"`
}

// ComputeStats aggregates targets into a Stats value.
func ComputeStats(ts []Target) Stats {
	var s Stats
	var sum float64
	var n int
	for _, t := range ts {
		s.Total++
		switch t.Status {
		case StatusOnline:
			s.Online++
		case StatusOffline:
			s.Offline++
		case StatusDegraded:
			s.Degraded++
		}
		if t.ResponseTimeMS != nil {
			sum += *t.ResponseTimeMS
			n++
		}
	}
	s.Unknown = s.Total - s.Online - s.Offline - s.Degraded
	if n > 0 {
		s.AvgResponseTimeMS = Round2(sum / float64(n))
	}
	if s.Total > 0 {
		s.OnlinePercentage = float64(int(float64(s.Online)/float64(s.Total)*1000+0.5)) / 10
	}
	return s
}

// Round2 rounds v to two decimal places.
func Round2(v float64) float64 {
	if v < 0 {
		return -Round2(-v)
	}
	return float64(int64(v*100+0.5)) / 100
}

// Float64 returns a pointer to v.
func Float64(v float64) *float64 { return &v }
