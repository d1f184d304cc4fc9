package domain

import "strings"

// Priority is the closed set of task priorities.
type Priority string

const (
	PriorityUrgent Priority = "URGENT"
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

// DefaultPriority applies when a task is created without one.
const DefaultPriority = PriorityMedium

// Priorities lists every priority from most to least pressing.
var Priorities = []Priority{PriorityUrgent, PriorityHigh, PriorityMedium, PriorityLow}

// priorityRanks drives task tie-breaking. Lower sorts first.
var priorityRanks = map[Priority]int{
	PriorityUrgent: 1,
	PriorityHigh:   2,
	PriorityMedium: 3,
	PriorityLow:    4,
}

// Rank returns the ordinal used for sorting. Unknown values rank as MEDIUM.
func (p Priority) Rank() int {
	if r, ok := priorityRanks[p]; ok {
		return r
	}
	return priorityRanks[PriorityMedium]
}

func (p Priority) Valid() bool {
	_, ok := priorityRanks[p]
	return ok
}

// ParsePriority accepts any casing of the four names. Empty input yields the default.
func ParsePriority(s string) (Priority, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultPriority, true
	}
	p := Priority(strings.ToUpper(s))
	if !p.Valid() {
		return "", false
	}
	return p, true
}
