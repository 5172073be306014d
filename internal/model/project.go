package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Project is one user's in-progress or completed song assembly. The State
// field carries the full serialized pipeline state and is the single source
// of truth for resuming a session.
type Project struct {
	ID         string        `json:"id"`
	UserID     string        `json:"userId"`
	SongName   string        `json:"songName"`
	FlowType   FlowType      `json:"projectType"`
	PlaybackID string        `json:"playbackId,omitempty"`
	Status     ProjectStatus `json:"status"`
	State      *FlowState    `json:"verses"`
	CreatedAt  time.Time     `json:"createdAt"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}

// RecordingLayer is one take in a multi-take harmony stack.
type RecordingLayer struct {
	Label    string `json:"label,omitempty"`
	AudioURL string `json:"audioUrl"`
}

// Section is one lyrical unit of the song. Recordings are attached or
// replaced by re-recording actions, never deleted individually.
type Section struct {
	Type              SectionType      `json:"type"`
	Label             string           `json:"label"`
	StartTime         float64          `json:"startTime,omitempty"`
	EndTime           float64          `json:"endTime,omitempty"`
	Duration          float64          `json:"duration,omitempty"`
	AudioURL          string           `json:"audioUrl,omitempty"`
	InstrumentalURL   string           `json:"instrumentalUrl,omitempty"`
	FinalRecordingURL string           `json:"finalRecordingUrl,omitempty"`
	Layers            []RecordingLayer `json:"layers,omitempty"`
}

// RecordingFor returns the section's recording for the given stage, or ""
// if none exists yet.
func (s *Section) RecordingFor(stage Stage) string {
	switch stage {
	case StageFinalRecording:
		return s.FinalRecordingURL
	default:
		return s.AudioURL
	}
}

// AllRecorded reports whether every section carries a recording for the
// given stage. This gate controls the finish transition of every flow.
func AllRecorded(sections []Section, stage Stage) bool {
	if len(sections) == 0 {
		return false
	}
	for i := range sections {
		if sections[i].RecordingFor(stage) == "" {
			return false
		}
	}
	return true
}

// FlowState is the serialized pipeline state persisted in the project's
// verses column. The Flow tag discriminates which stage set applies, so a
// loaded document can be validated instead of trusted.
type FlowState struct {
	Flow              FlowType  `json:"flow"`
	Stage             Stage     `json:"stage"`
	Sections          []Section `json:"sections,omitempty"`
	CurrentVerseIndex int       `json:"currentVerseIndex"`

	// ai flow
	TempoBPM      int         `json:"tempoBpm,omitempty"`
	TimeSignature string      `json:"timeSignature,omitempty"`
	Style         string      `json:"style,omitempty"`
	NegativeStyle string      `json:"negativeStyle,omitempty"`
	VocalGender   VocalGender `json:"vocalGender,omitempty"`
	SongTitle     string      `json:"songTitle,omitempty"`
	IntroURL      string      `json:"introUrl,omitempty"`
	OutroURL      string      `json:"outroUrl,omitempty"`

	// search + upload flows
	SourceSongURL   string `json:"sourceSongUrl,omitempty"`
	VocalURL        string `json:"vocalUrl,omitempty"`
	InstrumentalURL string `json:"instrumentalUrl,omitempty"`

	// narration flow
	NarrationScript string `json:"narrationScript,omitempty"`

	// set once the merged (and mastered) asset exists
	FinalSongURL string `json:"finalSongUrl,omitempty"`
}

// NewFlowState returns the initial state for a flow, positioned at its
// first stage.
func NewFlowState(flow FlowType) (*FlowState, error) {
	stages, ok := FlowStages[flow]
	if !ok {
		return nil, fmt.Errorf("unknown flow type: %s", flow)
	}
	return &FlowState{Flow: flow, Stage: stages[0]}, nil
}

// StageIndex returns the position of a stage within a flow, or -1 if the
// stage does not belong to the flow.
func StageIndex(flow FlowType, stage Stage) int {
	for i, s := range FlowStages[flow] {
		if s == stage {
			return i
		}
	}
	return -1
}

// RecordingStage returns the stage whose recordings gate the finish
// transition for the flow.
func (st *FlowState) RecordingStage() Stage {
	if st.Flow == FlowAI {
		return StageFinalRecording
	}
	return StageSectionRecording
}

// UnmarshalJSON validates the flow tag and stage against the known stage
// sets, rejecting documents that would put a controller into an impossible
// position.
func (st *FlowState) UnmarshalJSON(data []byte) error {
	type alias FlowState
	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if _, ok := FlowStages[raw.Flow]; !ok {
		return fmt.Errorf("unknown flow type: %q", raw.Flow)
	}
	if StageIndex(raw.Flow, raw.Stage) < 0 {
		return fmt.Errorf("stage %q does not belong to flow %q", raw.Stage, raw.Flow)
	}
	*st = FlowState(raw)
	return nil
}
