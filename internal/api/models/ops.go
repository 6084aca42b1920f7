package models

import "time"

// Level is the coarse state of the service or one of its components.
type Level string

const (
	LevelOK       Level = "OK"
	LevelDegraded Level = "DEGRADED"
	LevelFail     Level = "FAIL"
)

func (l Level) rank() int {
	switch l {
	case LevelFail:
		return 2
	case LevelDegraded:
		return 1
	default:
		return 0
	}
}

// Worse returns the more severe of l and other.
func (l Level) Worse(other Level) Level {
	if other.rank() > l.rank() {
		return other
	}
	return l
}

// Health is the body of the liveness and readiness probes. Failures maps a
// failing check to its error.
type Health struct {
	Status    Level             `json:"status"`
	Time      time.Time         `json:"time"`
	Version   string            `json:"version,omitempty"`
	BuildTime string            `json:"buildTime,omitempty"`
	Failures  map[string]string `json:"failures,omitempty"`
}

// ComponentKind separates internal dependencies from upstream providers.
type ComponentKind string

const (
	ComponentCheck    ComponentKind = "check"
	ComponentProvider ComponentKind = "provider"
)

// Component is one row of the status report.
type Component struct {
	Name          string        `json:"name"`
	Kind          ComponentKind `json:"kind"`
	Status        Level         `json:"status"`
	Detail        string        `json:"detail,omitempty"`
	LastSuccessAt *time.Time    `json:"lastSuccessAt,omitempty"`
	LastFailureAt *time.Time    `json:"lastFailureAt,omitempty"`
}

// SystemStatus lists checks first, then providers by name.
type SystemStatus struct {
	Status     Level       `json:"status"`
	Time       time.Time   `json:"time"`
	Components []Component `json:"components"`
}
