package scheduler

import "fmt"

const (
	JobCompletion    = "poll_completion"
	JobAuthorityPoll = "authority_poll_start"
)

// JobError is returned by a pass that aborted. Writes made before the failing
// step are kept; the next tick picks up whatever is still pending.
type JobError struct {
	Job      string
	Op       string
	TenantID string
	PollID   string
	Err      error
}

func (e *JobError) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.PollID != "":
		return fmt.Sprintf("%s: %s (poll %s): %v", e.Job, e.Op, e.PollID, e.Err)
	case e.TenantID != "":
		return fmt.Sprintf("%s: %s (tenant %s): %v", e.Job, e.Op, e.TenantID, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Job, e.Op, e.Err)
	}
}

func (e *JobError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func jobError(job, op string, meta pollRef, err error) *JobError {
	return &JobError{
		Job:      job,
		Op:       op,
		TenantID: meta.TenantID,
		PollID:   meta.PollID,
		Err:      err,
	}
}

type pollRef struct {
	TenantID string
	PollID   string
}
