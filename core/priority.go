package core

import "fmt"

// TaskPriority is the tier a task declares. Values increase with urgency.
//
// The set is closed: anything outside [TaskPriorityBackground, TaskPriorityMain]
// is rejected with ErrInvalidPriority.
type TaskPriority int

const (
	// TaskPriorityBackground: lowest priority, used when nothing else is given.
	TaskPriorityBackground TaskPriority = iota

	// TaskPriorityMedium: executed last in a scheduling wave and may be starved
	// when several waves arrive in a short span. Use it for work that is fine
	// to skip now and pick up on a later wave.
	TaskPriorityMedium

	// TaskPriorityHigh: critical background work that must finish for this
	// wave and must not be starved by later waves.
	TaskPriorityHigh

	// TaskPriorityBlocking: executed first, in parallel, and the submitter
	// waits until all of them are complete. Only for work whose absence
	// breaks the user journey or leads to a crash.
	TaskPriorityBlocking

	// TaskPriorityMain: executed synchronously on the main context before any
	// other tier is scheduled, in the order of submission.
	TaskPriorityMain
)

var priorityNames = [...]string{
	TaskPriorityBackground: "background",
	TaskPriorityMedium:     "medium",
	TaskPriorityHigh:       "high",
	TaskPriorityBlocking:   "blocking",
	TaskPriorityMain:       "main",
}

// AllPriorities returns every valid tier in increasing urgency.
func AllPriorities() []TaskPriority {
	return []TaskPriority{
		TaskPriorityBackground,
		TaskPriorityMedium,
		TaskPriorityHigh,
		TaskPriorityBlocking,
		TaskPriorityMain,
	}
}

// IsValid reports whether p is one of the five tiers.
func (p TaskPriority) IsValid() bool {
	return p >= TaskPriorityBackground && p <= TaskPriorityMain
}

// IsAsync reports whether tasks of this tier go through the pending queue.
func (p TaskPriority) IsAsync() bool {
	return p >= TaskPriorityBackground && p <= TaskPriorityHigh
}

func (p TaskPriority) String() string {
	if !p.IsValid() {
		return fmt.Sprintf("TaskPriority(%d)", int(p))
	}
	return priorityNames[p]
}

// ParseTaskPriority converts a tier name into a TaskPriority.
func ParseTaskPriority(s string) (TaskPriority, error) {
	for i, name := range priorityNames {
		if name == s {
			return TaskPriority(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidPriority, s)
}

// ValidatePriority returns ErrInvalidPriority if p is outside the enumeration.
func ValidatePriority(p TaskPriority) error {
	if !p.IsValid() {
		return fmt.Errorf("%w: %d", ErrInvalidPriority, int(p))
	}
	return nil
}

func (p TaskPriority) MarshalText() ([]byte, error) {
	if !p.IsValid() {
		return nil, ValidatePriority(p)
	}
	return []byte(p.String()), nil
}

func (p *TaskPriority) UnmarshalText(b []byte) error {
	v, err := ParseTaskPriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}
