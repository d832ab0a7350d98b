package domain

type Status string

const (
	StatusUnknown  Status = "unknown"
	StatusOnline   Status = "online"
	StatusDegraded Status = "degraded"
	StatusOffline  Status = "offline"
)

// Level is a log row severity.
type Level string

const (
	LevelDebug    Level = "DEBUG"
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

// LevelFor maps a new health state to the severity of its transition log row.
func LevelFor(s Status) Level {
	switch s {
	case StatusOffline:
		return LevelCritical
	case StatusDegraded:
		return LevelWarning
	default:
		return LevelInfo
	}
}

// ValidLevel reports whether l is a known severity.
func ValidLevel(l Level) bool {
	switch l {
	case LevelDebug, LevelInfo, LevelWarning, LevelError, LevelCritical:
		return true
	}
	return false
}
