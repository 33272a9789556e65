package inference

// Reason labels the outcome of an inference.
type Reason string

const (
	ReasonDataRetrievalFailure Reason = "DataRetrievalFailure"
	ReasonHiccupDetected       Reason = "HiccupDetected"
	ReasonStaleFeedDetected    Reason = "StaleFeedDetected"
	ReasonChainlinkValidated   Reason = "ChainlinkValidated"
)

// Verdict is the terminal state of the judgment.
type Verdict int

const (
	// VerdictRetrievalFailure: a required source was absent; no fair value.
	VerdictRetrievalFailure Verdict = iota
	// VerdictCompensated: the reference is distrusted and the street price is used.
	VerdictCompensated
	// VerdictValidated: the reference price is used.
	VerdictValidated
)

func (v Verdict) String() string {
	switch v {
	case VerdictCompensated:
		return "compensated"
	case VerdictValidated:
		return "validated"
	default:
		return "retrieval_failure"
	}
}

type signals struct {
	hiccup bool
	stale  bool
}

type judgment struct {
	verdict Verdict
	reason  Reason
}

// judgments is exhaustive over both signals. A hiccup outranks staleness in the label.
var judgments = map[signals]judgment{
	{hiccup: true, stale: true}:   {VerdictCompensated, ReasonHiccupDetected},
	{hiccup: true, stale: false}:  {VerdictCompensated, ReasonHiccupDetected},
	{hiccup: false, stale: true}:  {VerdictCompensated, ReasonStaleFeedDetected},
	{hiccup: false, stale: false}: {VerdictValidated, ReasonChainlinkValidated},
}

func judge(hiccup, stale bool) judgment {
	return judgments[signals{hiccup: hiccup, stale: stale}]
}
