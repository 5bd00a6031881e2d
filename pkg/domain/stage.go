package domain

// Stage is one step of the fixed processing sequence, plus the terminal and
// suspended states a case can occupy. The zero value is StageIntake.
type Stage string

const (
	StageIntake         Stage = "intake"
	StageQualityCheck   Stage = "quality_check"
	StageRecognition    Stage = "recognition"
	StageClassification Stage = "classification"
	StageExport         Stage = "export"

	StageCompleted Stage = "completed"
	StageFailed    Stage = "failed"
	StageInReview  Stage = "in_review"
)

// PipelineStages is the fixed automatic processing sequence. A case only ever
// moves forward through it, or sideways to Failed/InReview.
var PipelineStages = []Stage{
	StageQualityCheck,
	StageRecognition,
	StageClassification,
	StageExport,
}

// stageOrder ranks stages for forward-only transition checks. Terminal and
// suspended states are unranked; they are reachable from any pipeline stage.
var stageOrder = map[Stage]int{
	StageIntake:         0,
	StageQualityCheck:   1,
	StageRecognition:    2,
	StageClassification: 3,
	StageExport:         4,
	StageCompleted:      5,
}

// IsTerminal reports whether the stage ends automatic processing for good.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed
}

// CanAdvanceTo reports whether a transition from s to next respects the
// forward-only invariant. Failed and InReview are reachable from any
// non-terminal stage; terminal stages admit no transitions at all.
func (s Stage) CanAdvanceTo(next Stage) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StageFailed || next == StageInReview {
		return true
	}
	from, okFrom := stageOrder[s]
	to, okTo := stageOrder[next]
	if s == StageInReview {
		// Resuming from review re-enters the sequence at the suspended stage.
		return okTo
	}
	return okFrom && okTo && to > from
}

// Next returns the stage following s in the automatic sequence, and false when
// s is the last pipeline stage or not part of the sequence.
func (s Stage) Next() (Stage, bool) {
	for i, st := range PipelineStages {
		if st == s {
			if i+1 < len(PipelineStages) {
				return PipelineStages[i+1], true
			}
			return StageCompleted, true
		}
	}
	if s == StageIntake {
		return PipelineStages[0], true
	}
	return "", false
}

// Prev returns the stage preceding s in the automatic sequence, and false
// when s is not part of the sequence.
func (s Stage) Prev() (Stage, bool) {
	for i, st := range PipelineStages {
		if st == s {
			if i == 0 {
				return StageIntake, true
			}
			return PipelineStages[i-1], true
		}
	}
	return "", false
}

func (s Stage) String() string { return string(s) }
