package queue

import (
	"fmt"
	"strings"
)

// validNextStatuses is the full adjacency table of the task state machine.
// A transition to the same status is always allowed and only refreshes
// updated_at; it is not listed here.
//
// Reclaims send working and claimed tasks back to queued. Operators may
// short-circuit an approved task straight to completed. published, completed,
// and cancelled have no outgoing edges.
var validNextStatuses = map[Status][]Status{
	StatusDraft:   {StatusQueued, StatusCancelled},
	StatusQueued:  {StatusClaimed, StatusOnHold, StatusCancelled},
	StatusClaimed: {StatusScripting, StatusQueued},

	StatusScripting:      {StatusScriptReview, StatusScriptApproved, StatusScriptError, StatusQueued},
	StatusScriptReview:   {StatusScriptApproved, StatusScripting, StatusScriptError, StatusCancelled},
	StatusScriptApproved: {StatusVoicing, StatusCompleted, StatusCancelled},
	StatusScriptError:    {StatusQueued, StatusCancelled},

	StatusVoicing:       {StatusVoiceReview, StatusVoiceApproved, StatusVoiceError, StatusQueued},
	StatusVoiceReview:   {StatusVoiceApproved, StatusVoicing, StatusVoiceError, StatusCancelled},
	StatusVoiceApproved: {StatusRendering, StatusCompleted, StatusCancelled},
	StatusVoiceError:    {StatusQueued, StatusCancelled},

	StatusRendering:      {StatusRenderReview, StatusRenderApproved, StatusRenderError, StatusQueued},
	StatusRenderReview:   {StatusRenderApproved, StatusRendering, StatusRenderError, StatusCancelled},
	StatusRenderApproved: {StatusAssembling, StatusCompleted, StatusCancelled},
	StatusRenderError:    {StatusQueued, StatusCancelled},

	StatusAssembling:       {StatusAssemblyReview, StatusAssemblyApproved, StatusAssemblyError, StatusQueued},
	StatusAssemblyReview:   {StatusAssemblyApproved, StatusAssembling, StatusAssemblyError, StatusCancelled},
	StatusAssemblyApproved: {StatusSubtitling, StatusCompleted, StatusCancelled},
	StatusAssemblyError:    {StatusQueued, StatusCancelled},

	StatusSubtitling:    {StatusPublishing, StatusSubtitleError, StatusQueued},
	StatusSubtitleError: {StatusQueued, StatusCancelled},

	StatusPublishing:    {StatusPublishReview, StatusPublished, StatusPublishError, StatusQueued},
	StatusPublishReview: {StatusPublished, StatusPublishing, StatusPublishError, StatusCancelled},
	StatusPublishError:  {StatusQueued, StatusCancelled},

	StatusPublished: {},
	StatusCompleted: {},
	StatusCancelled: {},

	StatusOnHold: {StatusQueued, StatusCancelled},
}

// AllowedTransitions returns the statuses reachable from the given status,
// not counting the always-allowed self transition.
func AllowedTransitions(from Status) []Status {
	next := validNextStatuses[from]
	cp := make([]Status, len(next))
	copy(cp, next)
	return cp
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, candidate := range validNextStatuses[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError reports a rejected status change.
type InvalidTransitionError struct {
	TaskID  int64
	From    Status
	To      Status
	Allowed []Status
}

func (e *InvalidTransitionError) Error() string {
	allowed := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		allowed[i] = string(s)
	}
	options := "none"
	if len(allowed) > 0 {
		options = strings.Join(allowed, ", ")
	}
	return fmt.Sprintf("task %d: cannot transition from %s to %s (allowed: %s)", e.TaskID, e.From, e.To, options)
}

func newInvalidTransition(taskID int64, from, to Status) *InvalidTransitionError {
	return &InvalidTransitionError{TaskID: taskID, From: from, To: to, Allowed: AllowedTransitions(from)}
}
