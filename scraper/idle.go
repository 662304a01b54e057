package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrIdleTimeout reports a transfer that stopped sending data.
var ErrIdleTimeout = fmt.Errorf("no data received within the download timeout: %w", context.DeadlineExceeded)

// idleBody cancels its request when neither headers nor body bytes arrive
// for timeout. Every successful read re-arms the timer.
type idleBody struct {
	ctx     context.Context
	cancel  context.CancelCauseFunc
	timer   *time.Timer
	timeout time.Duration
	body    io.ReadCloser
}

func newIdleBody(ctx context.Context, cancel context.CancelCauseFunc, timeout time.Duration) *idleBody {
	b := &idleBody{ctx: ctx, cancel: cancel, timeout: timeout}
	if timeout > 0 {
		b.timer = time.AfterFunc(timeout, func() { cancel(ErrIdleTimeout) })
	}
	return b
}

func (b *idleBody) Read(p []byte) (int, error) {
	n, err := b.body.Read(p)
	if n > 0 && b.timer != nil {
		b.timer.Reset(b.timeout)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		err = b.cause(err)
	}
	return n, err
}

func (b *idleBody) Close() error {
	if b.timer != nil {
		b.timer.Stop()
	}
	b.cancel(nil)
	if b.body == nil {
		return nil
	}
	return b.body.Close()
}

// cause replaces the generic cancellation error with ErrIdleTimeout when the
// timer fired.
func (b *idleBody) cause(err error) error {
	if errors.Is(context.Cause(b.ctx), ErrIdleTimeout) {
		return fmt.Errorf("%w: %v", ErrIdleTimeout, err)
	}
	return err
}
