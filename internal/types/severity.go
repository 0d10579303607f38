package types

import (
	"fmt"
	"strings"
)

// Severity is the closed set of violation severities. Lower values have
// higher priority: errors sort before warnings, warnings before info.
type Severity int

// Severity levels in priority order.
const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityInfo
)

// Severities lists every severity in priority order.
var Severities = []Severity{SeverityError, SeverityWarning, SeverityInfo}

// Severity level names.
const (
	SeverityNameError   = "error"
	SeverityNameWarning = "warning"
	SeverityNameInfo    = "info"
)

// String returns the lowercase name of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityError:
		return SeverityNameError
	case SeverityWarning:
		return SeverityNameWarning
	case SeverityInfo:
		return SeverityNameInfo
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// Valid reports whether s is one of the defined severities.
func (s Severity) Valid() bool {
	return s >= SeverityError && s <= SeverityInfo
}

// Outranks reports whether s has strictly higher priority than other.
func (s Severity) Outranks(other Severity) bool {
	return s < other
}

// AtLeast reports whether s is as severe as threshold or more.
func (s Severity) AtLeast(threshold Severity) bool {
	return s <= threshold
}

// ParseSeverity converts a name to a Severity. Tool vocabularies are
// folded in: "information", "note" and "hint" map to info.
func ParseSeverity(name string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "error", "fatal", "critical", "high":
		return SeverityError, nil
	case "warning", "warn", "medium":
		return SeverityWarning, nil
	case "info", "information", "note", "hint", "suggestion", "low":
		return SeverityInfo, nil
	default:
		return SeverityInfo, fmt.Errorf("unknown severity %q: valid severities are error, warning, info", name)
	}
}

// MarshalText encodes the severity as its name. Text marshaling makes
// severities usable as JSON object keys as well as values.
func (s Severity) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("cannot marshal %s", s)
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a severity name.
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
