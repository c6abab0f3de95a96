package domain

import "time"

// AttemptOutcome enumerates how an enhancement attempt ended.
type AttemptOutcome string

const (
	AttemptSucceeded AttemptOutcome = "SUCCEEDED"
	AttemptFailed    AttemptOutcome = "FAILED"
	AttemptDiscarded AttemptOutcome = "DISCARDED"
)

// Attempt is one call to the enhancement service, recorded for auditing.
type Attempt struct {
	ID        string
	ImageID   string
	ImageName string
	Options   Options
	Model     string
	Outcome   AttemptOutcome
	Error     string
	Duration  time.Duration
	CreatedAt time.Time
}
