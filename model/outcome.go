package model

type OutcomeStatus int

const (
	OutcomeDeleted OutcomeStatus = iota
	OutcomeAbsent                // target already gone; counts as deleted
	OutcomeRetry                 // throttled or unreported; resubmit
	OutcomeFailed
)

func (s OutcomeStatus) String() string {
	switch s {
	case OutcomeDeleted:
		return "deleted"
	case OutcomeAbsent:
		return "absent"
	case OutcomeRetry:
		return "retry"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// PathOutcome is the provider's verdict for one path of a delete batch.
type PathOutcome struct {
	Path   string
	Status OutcomeStatus
	Reason string
}

func (o PathOutcome) Settled() bool {
	return o.Status == OutcomeDeleted || o.Status == OutcomeAbsent || o.Status == OutcomeFailed
}
