package conform

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// exchangeWithTimeout runs one command/reply exchange, bounded by timeout
// when it is positive. A deadline hit is reported as a transport failure
// naming the command, so that a session that stops answering aborts the run
// instead of hanging it.
func exchangeWithTimeout(ctx context.Context, ch Channel, cmd Command, timeout time.Duration) (Reply, error) {
	if timeout <= 0 {
		return ch.exchange(ctx, cmd)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reply, err := ch.exchange(timeoutCtx, cmd)
	timedOut := errors.Is(err, context.DeadlineExceeded) || errors.Is(timeoutCtx.Err(), context.DeadlineExceeded)
	if err != nil && timedOut && ctx.Err() == nil {
		return Reply{}, &transportError{
			op:  fmt.Sprintf("%s exceeded timeout of %v", cmd, timeout),
			err: context.DeadlineExceeded,
		}
	}
	return reply, err
}
