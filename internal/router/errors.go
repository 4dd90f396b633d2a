package router

import (
	"fmt"
	"time"
)

// NoMatchError reports a query no tier could route: the native tiers scored
// too low and the fallback backend either is not configured or returned
// nothing usable.
type NoMatchError struct {
	Query  string
	Reason string
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("no tool matched query %q: %s", e.Query, e.Reason)
}

// TimeoutError reports a stage that exceeded its budget. For the pattern and
// mid tiers this triggers escalation rather than surfacing to the caller;
// only a fallback timeout is terminal.
type TimeoutError struct {
	Stage  string
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s stage exceeded %v budget", e.Stage, e.Budget)
}
