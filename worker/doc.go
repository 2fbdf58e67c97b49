/*
Package worker runs the external chat worker, one process per request.

Every request gets its own Invocation: the process is started, fed its input, waited on, and reaped before the Bridge returns, whatever the outcome. Nothing is shared between invocations, so a worker that crashes or hangs can only fail the request it was started for.

Failures are typed so callers can tell them apart with errors.As:

  - *LaunchError: the process could not be started (missing interpreter, bad working dir).
  - *ExitError: the process exited non-zero.
  - *EmptyResponseError: a chat turn exited cleanly without printing anything.
  - *codec.DecodeError: output was produced but held no usable record.
  - *codec.ApplicationError: the worker reported a well-formed error.

A Bridge timeout kills the process and surfaces context.DeadlineExceeded.
*/
package worker
