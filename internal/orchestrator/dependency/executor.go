package dependency

import "context"

// DependencyExecutor defines the interface for executing external commands.
//
// Implementations:
//   - LocalExecutor: runs commands as local process groups
type DependencyExecutor interface {
	// ExecuteCommand executes a command with the given request.
	//
	// If the context is canceled or its deadline passes, the process group is
	// terminated and the returned error wraps ctx.Err(), so callers can use
	// errors.Is(err, context.DeadlineExceeded).
	ExecuteCommand(ctx context.Context, req CommandRequest) (CommandResponse, error)

	// HealthCheck verifies that the executor is ready to handle requests.
	HealthCheck(ctx context.Context) error
}

// Task is a cancelable external task. Start launches it, Done is closed once it
// has fully exited, Cancel asks it to stop (escalating to a hard kill after a
// grace period), and Result is valid after Done.
type Task interface {
	Start() error
	Done() <-chan struct{}
	Cancel()
	Result() (CommandResponse, error)
}
