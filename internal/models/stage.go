package models

// Stage is a named phase of backend processing, surfaced for display only.
type Stage string

const (
	StageUnknown        Stage = "unknown"
	StageSplitting      Stage = "splitting"
	StageExtracting     Stage = "extracting"
	StageMasking        Stage = "masking"
	StageCombiningFinal Stage = "combining_final"
	StageDone           Stage = "done"
)

var stageLabels = map[Stage]string{
	StageSplitting:      "Splitting video",
	StageExtracting:     "Extracting frames",
	StageMasking:        "Masking faces and license plates",
	StageCombiningFinal: "Recombining video",
	StageDone:           "Analysis complete",
}

// stageRank orders the known stages as the backend runs them.
var stageRank = map[Stage]int{
	StageSplitting:      1,
	StageExtracting:     2,
	StageMasking:        3,
	StageCombiningFinal: 4,
	StageDone:           5,
}

// genericLabel is shown for stages the client does not recognize.
const genericLabel = "Analyzing"

// ParseStage maps a raw stage key onto the fixed enumeration.
// Unrecognized keys map to StageUnknown.
func ParseStage(key string) Stage {
	s := Stage(key)
	if _, ok := stageLabels[s]; ok {
		return s
	}
	return StageUnknown
}

// Label returns the display category for the stage.
func (s Stage) Label() string {
	if label, ok := stageLabels[s]; ok {
		return label
	}
	return genericLabel
}

// After reports whether s comes later in processing than other.
// Unrecognized stages rank before every known stage.
func (s Stage) After(other Stage) bool {
	return stageRank[s] > stageRank[other]
}
