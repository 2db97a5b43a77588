package job

// ExecutionError is returned by a job to steer the scheduler's completion
// handling. Any other error from a job is reported to listeners and otherwise
// treated as a plain failure.
type ExecutionError struct {
	Cause error

	// RefireImmediately asks the scheduler to fire the same trigger again
	// right away instead of advancing the schedule.
	RefireImmediately bool
	// UnscheduleFiringTrigger removes the trigger that produced this firing.
	UnscheduleFiringTrigger bool
	// UnscheduleAllTriggers marks every trigger of this job complete.
	UnscheduleAllTriggers bool
}

func (e *ExecutionError) Error() string {
	if e.Cause == nil {
		return "job execution failed"
	}
	return "job execution failed: " + e.Cause.Error()
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// NewExecutionError wraps a cause with default handling (report and continue).
func NewExecutionError(cause error) *ExecutionError {
	return &ExecutionError{Cause: cause}
}
