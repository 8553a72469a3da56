package queue

import "errors"

// Sentinel errors surfaced by the broker. The worker pool classifies
// these via errors.Is and never re-raises one kind as another.
var (
	// ErrNoJob names the no-claimable-job case. Fetch does not return it:
	// it keeps polling and returns ctx.Err() once ctx is done.
	ErrNoJob = errors.New("queue: no job available")

	// ErrOwnershipLost indicates Ack/Fail referenced a job this
	// caller no longer owns (it was reclaimed after a stall timeout).
	ErrOwnershipLost = errors.New("queue: job ownership lost")

	// ErrJobNotFound indicates the job id does not exist.
	ErrJobNotFound = errors.New("queue: job not found")
)
