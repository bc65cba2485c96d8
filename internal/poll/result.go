package poll

// Terminal result codes written to a poll. Multiple-choice polls store the
// winning option text and share polls store a per-option breakdown instead.
const (
	ResultCompleted                 = "Completed"
	ResultUndecided                 = "Undecided"
	ResultInsufficientAuthority     = "InsufficientAuthority"
	ResultInsufficientParticipation = "InsufficientParticipation"
	ResultPositive                  = "Positive"
	ResultNegative                  = "Negative"
)

// AbstainValue marks a multiple-choice vote that picks no option.
const AbstainValue = -1

type Event string

const (
	EventStarted    Event = "started"
	EventEnded      Event = "ended"
	EventAboutToEnd Event = "about_to_end"
)

type PolicyStatus string

const (
	PolicyVoting     PolicyStatus = "voting"
	PolicyActive     PolicyStatus = "active"
	PolicyOverridden PolicyStatus = "overridden"
	PolicyRejected   PolicyStatus = "rejected"
)
