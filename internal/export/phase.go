package export

// Phase is a stage of the export pipeline.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseTrimming
	PhaseProbing
	PhaseInitialEncoding
	PhaseConverging
	PhaseCleanup
	PhaseDone
	PhaseFailed
)

var phaseNames = [...]string{
	PhaseIdle:            "idle",
	PhaseTrimming:        "trimming",
	PhaseProbing:         "probing",
	PhaseInitialEncoding: "initial_encoding",
	PhaseConverging:      "converging",
	PhaseCleanup:         "cleanup",
	PhaseDone:            "done",
	PhaseFailed:          "failed",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// ParsePhase is the inverse of String. Unknown names map to PhaseIdle.
func ParsePhase(s string) Phase {
	for i, name := range phaseNames {
		if name == s {
			return Phase(i)
		}
	}
	return PhaseIdle
}

// Terminal reports whether no further events follow this phase.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(b []byte) error {
	*p = ParsePhase(string(b))
	return nil
}
