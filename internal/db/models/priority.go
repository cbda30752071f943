package models

import (
	"encoding/json"
	"fmt"
)

// Priority orders jobs in the scheduler queue. Higher values run first.
type Priority int

// Priority constants
const (
	// PriorityUnknown represents a missing or invalid priority
	PriorityUnknown Priority = iota
	// PriorityLow is the lowest priority band
	PriorityLow
	// PriorityNormal is the default priority band
	PriorityNormal
	// PriorityHigh is the elevated priority band
	PriorityHigh
	// PriorityCritical is the highest priority band
	PriorityCritical
)

var priorityNames = []string{
	"unknown",
	"low",
	"normal",
	"high",
	"critical",
}

// ParsePriority converts a string representation of a priority to Priority
func ParsePriority(str string) (Priority, error) {
	for i, name := range priorityNames {
		if i == 0 {
			continue
		}
		if name == str {
			return Priority(i), nil
		}
	}
	return PriorityUnknown, fmt.Errorf("invalid priority: %s", str)
}

// Valid reports whether p is one of the four priority bands
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

func (p Priority) String() string {
	if p < 0 || int(p) >= len(priorityNames) {
		return priorityNames[0]
	}
	return priorityNames[p]
}

// MarshalJSON implements the json.Marshaler interface for Priority
func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for Priority
func (p *Priority) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	priority, err := ParsePriority(str)
	if err != nil {
		return err
	}

	*p = priority
	return nil
}

// MarshalYAML renders the priority by name in configuration files
func (p Priority) MarshalYAML() (interface{}, error) {
	return p.String(), nil
}

// UnmarshalYAML parses the priority by name in configuration files
func (p *Priority) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var str string
	if err := unmarshal(&str); err != nil {
		return err
	}

	priority, err := ParsePriority(str)
	if err != nil {
		return err
	}

	*p = priority
	return nil
}
