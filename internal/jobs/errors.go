package jobs

import "fmt"

// Typed errors callers branch on with errors.As: JobNotReady,
// JobIsRunning, JobNotFound.

type ErrJobNotReady struct{ ID uint64 }

func (e ErrJobNotReady) Error() string { return fmt.Sprintf("job %d is not ready to queue", e.ID) }

type ErrJobIsRunning struct{ ID uint64 }

func (e ErrJobIsRunning) Error() string { return fmt.Sprintf("job %d is running and cannot be removed", e.ID) }

type ErrJobNotFound struct{ ID uint64 }

func (e ErrJobNotFound) Error() string { return fmt.Sprintf("job %d not found", e.ID) }
