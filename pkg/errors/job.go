package errors

var (
	// ErrJobNotFound is returned when no job exists for the given id.
	ErrJobNotFound = NewWithCode(CodeNotFound, "job not found")
	// ErrJobNotClaimable is returned when a worker could not claim a job because it is no longer queued.
	ErrJobNotClaimable = NewWithCode(CodeInvariant, "job is not in queued state")
	// ErrJobFinished is returned when a state transition is attempted on a terminal job.
	ErrJobFinished = NewWithCode(CodeInvalidInput, "job already finished")
	// ErrInvalidJobKind is returned when a job payload carries an unknown kind.
	ErrInvalidJobKind = NewWithCode(CodeInvalidInput, "invalid job kind")
)
