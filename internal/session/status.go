package session

import "github.com/rbright/nimbus/internal/fsm"

// Phase is the user-facing pipeline phase.
type Phase string

const (
	PhaseReady      Phase = "ready"
	PhaseRecording  Phase = "recording"
	PhaseProcessing Phase = "processing"
	PhaseDone       Phase = "done"
	PhaseError      Phase = "error"
)

// Severity classifies a status line for styling.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityActive  Severity = "active"
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
)

// Status is the view projection of controller state.
type Status struct {
	State    fsm.State
	Phase    Phase
	Label    string
	Severity Severity
	Controls fsm.Controls
}

func statusFor(state fsm.State, phase Phase, detail string) Status {
	s := Status{
		State:    state,
		Phase:    phase,
		Controls: fsm.ControlsFor(state),
	}
	switch phase {
	case PhaseRecording:
		s.Label, s.Severity = "Recording…", SeverityActive
	case PhaseProcessing:
		s.Label, s.Severity = "Processing…", SeverityActive
	case PhaseDone:
		s.Label, s.Severity = "Done", SeveritySuccess
	case PhaseError:
		s.Label, s.Severity = "Error", SeverityError
	default:
		s.Phase = PhaseReady
		s.Label, s.Severity = "Ready", SeverityInfo
	}
	if detail != "" {
		s.Label = s.Label + ": " + detail
	}
	return s
}
