package queue

import (
	"fmt"
	"strings"
)

// BulkTransitionError collects every request that blocked a bulk transition.
// The whole batch rolls back when any request fails validation.
type BulkTransitionError struct {
	Failures []*InvalidTransitionError
}

func (e *BulkTransitionError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, failure := range e.Failures {
		parts[i] = fmt.Sprintf("task %d (%s -> %s)", failure.TaskID, failure.From, failure.To)
	}
	return fmt.Sprintf("bulk transition rejected: %s", strings.Join(parts, "; "))
}
