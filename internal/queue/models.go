package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a task.
type Status string

const (
	StatusDraft   Status = "draft"
	StatusQueued  Status = "queued"
	StatusClaimed Status = "claimed"

	StatusScripting      Status = "scripting"
	StatusScriptReview   Status = "script_review"
	StatusScriptApproved Status = "script_approved"
	StatusScriptError    Status = "script_error"

	StatusVoicing       Status = "voicing"
	StatusVoiceReview   Status = "voice_review"
	StatusVoiceApproved Status = "voice_approved"
	StatusVoiceError    Status = "voice_error"

	StatusRendering      Status = "rendering"
	StatusRenderReview   Status = "render_review"
	StatusRenderApproved Status = "render_approved"
	StatusRenderError    Status = "render_error"

	StatusAssembling       Status = "assembling"
	StatusAssemblyReview   Status = "assembly_review"
	StatusAssemblyApproved Status = "assembly_approved"
	StatusAssemblyError    Status = "assembly_error"

	StatusSubtitling    Status = "subtitling"
	StatusSubtitleError Status = "subtitle_error"

	StatusPublishing    Status = "publishing"
	StatusPublishReview Status = "publish_review"
	StatusPublishError  Status = "publish_error"

	StatusPublished Status = "published"
	StatusCompleted Status = "completed"
	StatusOnHold    Status = "on_hold"
	StatusCancelled Status = "cancelled"
)

// Priority orders tasks within the scheduler; high is served first.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

var allStatuses = []Status{
	StatusDraft,
	StatusQueued,
	StatusClaimed,
	StatusScripting,
	StatusScriptReview,
	StatusScriptApproved,
	StatusScriptError,
	StatusVoicing,
	StatusVoiceReview,
	StatusVoiceApproved,
	StatusVoiceError,
	StatusRendering,
	StatusRenderReview,
	StatusRenderApproved,
	StatusRenderError,
	StatusAssembling,
	StatusAssemblyReview,
	StatusAssemblyApproved,
	StatusAssemblyError,
	StatusSubtitling,
	StatusSubtitleError,
	StatusPublishing,
	StatusPublishReview,
	StatusPublishError,
	StatusPublished,
	StatusCompleted,
	StatusOnHold,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// workingStatuses are the statuses in which a worker is actively executing a
// pipeline stage for the task.
var workingStatuses = map[Status]struct{}{
	StatusScripting:  {},
	StatusVoicing:    {},
	StatusRendering:  {},
	StatusAssembling: {},
	StatusSubtitling: {},
	StatusPublishing: {},
}

var reviewStatuses = map[Status]struct{}{
	StatusScriptReview:   {},
	StatusVoiceReview:    {},
	StatusRenderReview:   {},
	StatusAssemblyReview: {},
	StatusPublishReview:  {},
}

var approvedStatuses = map[Status]struct{}{
	StatusScriptApproved:   {},
	StatusVoiceApproved:    {},
	StatusRenderApproved:   {},
	StatusAssemblyApproved: {},
}

var errorStatuses = map[Status]struct{}{
	StatusScriptError:   {},
	StatusVoiceError:    {},
	StatusRenderError:   {},
	StatusAssemblyError: {},
	StatusSubtitleError: {},
	StatusPublishError:  {},
}

// inProgressStatuses occupy a channel's concurrency slot: a claimed, working,
// review-gated, or approved-but-unresumed task keeps other work in its channel
// from being admitted. Review and approved tasks count deliberately; see the
// capacity notes in DESIGN.md.
var inProgressStatuses = func() []Status {
	out := []Status{StatusClaimed}
	for _, s := range allStatuses {
		if _, ok := workingStatuses[s]; ok {
			out = append(out, s)
			continue
		}
		if _, ok := reviewStatuses[s]; ok {
			out = append(out, s)
			continue
		}
		if _, ok := approvedStatuses[s]; ok {
			out = append(out, s)
		}
	}
	return out
}()

// Task represents a unit of channel work persisted in SQLite.
type Task struct {
	ID            int64
	ChannelID     string
	Title         string
	Status        Status
	Priority      Priority
	MetadataJSON  string
	ErrorLog      string
	ClaimedBy     string
	ClaimedAt     *time.Time
	LastHeartbeat *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ChannelStats aggregates queue state for one channel.
type ChannelStats struct {
	ChannelID       string
	PendingCount    int
	InProgressCount int
	MaxConcurrent   int
	HasCapacity     bool
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// InProgressStatuses returns the statuses that occupy channel capacity.
func InProgressStatuses() []Status {
	cp := make([]Status, len(inProgressStatuses))
	copy(cp, inProgressStatuses)
	return cp
}

// ApprovedStatuses returns the statuses eligible for resumption after a
// review approval.
func ApprovedStatuses() []Status {
	out := make([]Status, 0, len(approvedStatuses))
	for _, s := range allStatuses {
		if _, ok := approvedStatuses[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

// ErrorStatuses returns the per-stage error parking statuses.
func ErrorStatuses() []Status {
	out := make([]Status, 0, len(errorStatuses))
	for _, s := range allStatuses {
		if _, ok := errorStatuses[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// ParsePriority converts a string into a known Priority.
func ParsePriority(value string) (Priority, bool) {
	switch Priority(strings.ToLower(strings.TrimSpace(value))) {
	case PriorityHigh:
		return PriorityHigh, true
	case PriorityNormal:
		return PriorityNormal, true
	case PriorityLow:
		return PriorityLow, true
	default:
		return "", false
	}
}

// IsWorking reports whether the task is actively executing a stage.
func (t Task) IsWorking() bool {
	_, ok := workingStatuses[t.Status]
	return ok
}

// IsTerminal reports whether the status has no outgoing transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusPublished, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsReview reports whether the status is a human-review gate.
func (s Status) IsReview() bool {
	_, ok := reviewStatuses[s]
	return ok
}

// IsError reports whether the status is a stage error state.
func (s Status) IsError() bool {
	_, ok := errorStatuses[s]
	return ok
}

// OccupiesCapacity reports whether a task in this status counts toward its
// channel's in-progress ceiling.
func (s Status) OccupiesCapacity() bool {
	if s == StatusClaimed {
		return true
	}
	if _, ok := workingStatuses[s]; ok {
		return true
	}
	if _, ok := reviewStatuses[s]; ok {
		return true
	}
	_, ok := approvedStatuses[s]
	return ok
}
