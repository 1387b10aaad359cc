package queue

// Pipeline stage names. These match the [stages] config keys and the budget
// collaborator's resource identifiers.
const (
	StageScript   = "script"
	StageVoice    = "voice"
	StageRender   = "render"
	StageAssemble = "assemble"
	StageSubtitle = "subtitle"
	StagePublish  = "publish"
)

// StageOrder lists the pipeline stages in execution order.
var StageOrder = []string{StageScript, StageVoice, StageRender, StageAssemble, StageSubtitle, StagePublish}

var stageByWorking = map[Status]string{
	StatusScripting:  StageScript,
	StatusVoicing:    StageVoice,
	StatusRendering:  StageRender,
	StatusAssembling: StageAssemble,
	StatusSubtitling: StageSubtitle,
	StatusPublishing: StagePublish,
}

var workingByStage = func() map[string]Status {
	out := make(map[string]Status, len(stageByWorking))
	for status, stage := range stageByWorking {
		out[stage] = status
	}
	return out
}()

var reviewByWorking = map[Status]Status{
	StatusScripting:  StatusScriptReview,
	StatusVoicing:    StatusVoiceReview,
	StatusRendering:  StatusRenderReview,
	StatusAssembling: StatusAssemblyReview,
	StatusPublishing: StatusPublishReview,
}

var approvedByWorking = map[Status]Status{
	StatusScripting:  StatusScriptApproved,
	StatusVoicing:    StatusVoiceApproved,
	StatusRendering:  StatusRenderApproved,
	StatusAssembling: StatusAssemblyApproved,
}

var errorByWorking = map[Status]Status{
	StatusScripting:  StatusScriptError,
	StatusVoicing:    StatusVoiceError,
	StatusRendering:  StatusRenderError,
	StatusAssembling: StatusAssemblyError,
	StatusSubtitling: StatusSubtitleError,
	StatusPublishing: StatusPublishError,
}

// resumeTargets maps each approved status to the working status a resumed
// claim enters.
var resumeTargets = map[Status]Status{
	StatusScriptApproved:   StatusVoicing,
	StatusVoiceApproved:    StatusRendering,
	StatusRenderApproved:   StatusAssembling,
	StatusAssemblyApproved: StatusSubtitling,
}

// successorByWorking maps each working status to where the task lands when
// the stage finishes and is not review-gated. Subtitling flows straight into
// publishing: there is no subtitle review gate.
var successorByWorking = map[Status]Status{
	StatusScripting:  StatusScriptApproved,
	StatusVoicing:    StatusVoiceApproved,
	StatusRendering:  StatusRenderApproved,
	StatusAssembling: StatusAssemblyApproved,
	StatusSubtitling: StatusPublishing,
	StatusPublishing: StatusPublished,
}

// StageFor returns the pipeline stage a working status belongs to.
func StageFor(status Status) (string, bool) {
	stage, ok := stageByWorking[status]
	return stage, ok
}

// WorkingStatusFor returns the working status executed by a stage.
func WorkingStatusFor(stage string) (Status, bool) {
	status, ok := workingByStage[stage]
	return status, ok
}

// ReviewStatusFor returns the review gate for a working status, if the stage
// has one.
func ReviewStatusFor(working Status) (Status, bool) {
	status, ok := reviewByWorking[working]
	return status, ok
}

// SuccessorFor returns where a finished, non-gated stage sends the task.
func SuccessorFor(working Status) (Status, bool) {
	status, ok := successorByWorking[working]
	return status, ok
}

// ErrorStatusFor returns the error state for a working status.
func ErrorStatusFor(working Status) (Status, bool) {
	status, ok := errorByWorking[working]
	return status, ok
}

// ResumeTargetFor returns the working status a resumed claim of an approved
// task enters.
func ResumeTargetFor(approved Status) (Status, bool) {
	status, ok := resumeTargets[approved]
	return status, ok
}

// NextStageFor returns the stage that will run next for a claimable status:
// queued and claimed tasks enter the script stage, approved tasks their
// resume target's stage. The budget gate filters claims by this stage.
func NextStageFor(status Status) (string, bool) {
	switch status {
	case StatusQueued, StatusClaimed:
		return StageScript, true
	}
	if target, ok := resumeTargets[status]; ok {
		return stageByWorking[target], true
	}
	if stage, ok := stageByWorking[status]; ok {
		return stage, true
	}
	return "", false
}
