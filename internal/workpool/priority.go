package workpool

import "strings"

// Priority is a label assigned by the issue producer.
type Priority string

// Priority labels.
const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

var priorityScores = map[Priority]float64{
	PriorityCritical: 100,
	PriorityHigh:     75,
	PriorityMedium:   50,
	PriorityLow:      25,
}

// Score returns the numeric score for the label. Unknown labels score as
// medium.
func (p Priority) Score() float64 {
	if s, ok := priorityScores[Priority(strings.ToLower(string(p)))]; ok {
		return s
	}
	return priorityScores[PriorityMedium]
}

// ParsePriority reports whether s is a known label.
func ParsePriority(s string) (Priority, bool) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	_, ok := priorityScores[p]
	return p, ok
}

// Score returns the issue's precomputed score, or the score of its label.
func (i Issue) Score() float64 {
	if i.PriorityScore != nil {
		return *i.PriorityScore
	}
	return i.Priority.Score()
}
