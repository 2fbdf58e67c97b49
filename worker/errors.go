package worker

import "fmt"

type LaunchError struct {
	Command string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launching worker %q: %s", e.Command, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("worker exited with code %d", e.Code)
	}
	return fmt.Sprintf("worker exited with code %d: %s", e.Code, e.Stderr)
}

type EmptyResponseError struct{}

func (e *EmptyResponseError) Error() string { return "no response from worker" }
