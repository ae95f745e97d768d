package models

const (
	DefaultSupport     = 50.0
	DefaultUncertainty = 4.0
)

// StateRecord holds a state's identity, its polls, and the support figures
// derived from them. Records are mutated during loading and read-only while
// a simulation runs.
type StateRecord struct {
	Name           string
	ElectoralVotes int
	Polls          []Poll

	// SupportA and SupportB are independent weighted means; they need not sum to 100.
	SupportA    float64
	SupportB    float64
	Uncertainty float64

	// Safe marks a state whose figures were fixed by a safe-state override.
	Safe bool
}

// NewStateRecord creates a record with the 50/50 prior and the default uncertainty.
func NewStateRecord(name string, electoralVotes int) *StateRecord {
	return &StateRecord{
		Name:           name,
		ElectoralVotes: electoralVotes,
		SupportA:       DefaultSupport,
		SupportB:       DefaultSupport,
		Uncertainty:    DefaultUncertainty,
	}
}

// AddPoll validates and appends a poll. A rejected poll is never stored.
func (s *StateRecord) AddPoll(supportA, supportB float64, weight int, moe float64) error {
	p, err := NewPoll(supportA, supportB, weight, moe)
	if err != nil {
		return err
	}
	s.Polls = append(s.Polls, p)
	return nil
}

// Margin returns SupportA - SupportB.
func (s *StateRecord) Margin() float64 {
	return s.SupportA - s.SupportB
}
