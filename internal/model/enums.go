package model

// Project lifecycle status
type ProjectStatus string

const (
	ProjectStatusOpen       ProjectStatus = "open"
	ProjectStatusRecording  ProjectStatus = "recording"
	ProjectStatusProcessing ProjectStatus = "processing"
	ProjectStatusCompleted  ProjectStatus = "completed"
)

var ValidProjectStatuses = []ProjectStatus{
	ProjectStatusOpen, ProjectStatusRecording,
	ProjectStatusProcessing, ProjectStatusCompleted,
}

// FlowType selects which stage controller owns a project. Exactly one flow
// is active per project once chosen.
type FlowType string

const (
	FlowSearch    FlowType = "search"
	FlowUpload    FlowType = "upload"
	FlowAI        FlowType = "ai"
	FlowNarration FlowType = "narration"
)

var ValidFlowTypes = []FlowType{FlowSearch, FlowUpload, FlowAI, FlowNarration}

// Stage is a named step within a pipeline flow, persisted so progress can
// resume after the user leaves.
type Stage string

const (
	// search flow
	StageSelectSong Stage = "select-song"
	// upload flow
	StageUploadSong Stage = "upload-song"
	// search + upload flows
	StageSeparating       Stage = "separating"
	StageSectionRecording Stage = "section-recording"
	// ai flow
	StageSelectTempo          Stage = "select-tempo"
	StageMetronomeRecording   Stage = "metronome-recording"
	StageSelectStyle          Stage = "select-style"
	StageProcessing           Stage = "processing"
	StageFinalRecording       Stage = "final-recording"
	StageGeneratingIntroOutro Stage = "generating-intro-outro"
	// narration flow
	StageWriteScript        Stage = "write-script"
	StageNarrationRecording Stage = "narration-recording"
	// all flows
	StageMerging Stage = "merging"
	StageFinish  Stage = "finish"
)

// FlowStages maps each flow to its ordered stage sequence. Forward user
// transitions must follow this order; asynchronous stages are left only via
// worker success.
var FlowStages = map[FlowType][]Stage{
	FlowSearch: {
		StageSelectSong, StageSeparating, StageSectionRecording,
		StageMerging, StageFinish,
	},
	FlowUpload: {
		StageUploadSong, StageSeparating, StageSectionRecording,
		StageMerging, StageFinish,
	},
	FlowAI: {
		StageSelectTempo, StageMetronomeRecording, StageSelectStyle,
		StageProcessing, StageFinalRecording, StageGeneratingIntroOutro,
		StageMerging, StageFinish,
	},
	FlowNarration: {
		StageWriteScript, StageNarrationRecording, StageSelectStyle,
		StageProcessing, StageMerging, StageFinish,
	},
}

// AsyncStages are stages owned by a background worker; the user cannot leave
// them with a synchronous transition.
var AsyncStages = map[Stage]bool{
	StageSeparating:           true,
	StageProcessing:           true,
	StageGeneratingIntroOutro: true,
	StageMerging:              true,
}

// RecordingAllowed reports whether user takes are accepted at a stage of
// the given flow. Search and upload record sections after separation; ai
// records a guide take to the metronome and a final take over the
// generated instrumentals; narration records the written script.
func RecordingAllowed(flow FlowType, stage Stage) bool {
	switch flow {
	case FlowAI:
		return stage == StageMetronomeRecording || stage == StageFinalRecording
	case FlowNarration:
		return stage == StageNarrationRecording
	default:
		return stage == StageSectionRecording
	}
}

// Section types
type SectionType string

const (
	SectionIntro  SectionType = "intro"
	SectionVerse  SectionType = "verse"
	SectionChorus SectionType = "chorus"
	SectionBridge SectionType = "bridge"
	SectionOutro  SectionType = "outro"
)

var ValidSectionTypes = []SectionType{
	SectionIntro, SectionVerse, SectionChorus, SectionBridge, SectionOutro,
}

// Job status
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Job kinds, one per provider operation
type JobKind string

const (
	JobKindSeparation   JobKind = "vocal-separation"
	JobKindInstrumental JobKind = "instrumental-generation"
	JobKindIntro        JobKind = "intro-generation"
	JobKindOutro        JobKind = "outro-generation"
	JobKindMixMaster    JobKind = "mix-master"
	JobKindFinalize     JobKind = "finalize-merge"
)

// Vocal gender hint forwarded to generation providers
type VocalGender string

const (
	VocalGenderFemale VocalGender = "female"
	VocalGenderMale   VocalGender = "male"
	VocalGenderAny    VocalGender = ""
)
