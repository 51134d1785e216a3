package pump

import (
	"context"

	"go.uber.org/zap"
)

type request struct {
	ctx   context.Context
	dir   Direction
	reply chan error
}

// Handle addresses a pump running in its own goroutine.
type Handle struct {
	inbox chan request
	done  chan struct{}
}

// Spawn hands p to a new goroutine. When ctx is cancelled the pump is stopped
// and the goroutine exits.
func Spawn(ctx context.Context, p *Pump) *Handle {
	h := &Handle{
		inbox: make(chan request),
		done:  make(chan struct{}),
	}
	go func() {
		defer close(h.done)
		for {
			select {
			case <-ctx.Done():
				if err := p.allLow(); err != nil {
					p.logger.Error("failed to stop pump on shutdown", zap.Error(err))
				}
				return
			case req := <-h.inbox:
				req.reply <- p.SetDirection(req.ctx, req.dir)
			}
		}
	}()
	return h
}

func (h *Handle) set(ctx context.Context, dir Direction) error {
	req := request{ctx: ctx, dir: dir, reply: make(chan error, 1)}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrUnavailable
	case h.inbox <- req:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-req.reply:
		return err
	}
}

func (h *Handle) Perfuse(ctx context.Context) error {
	return h.set(ctx, Forward)
}

func (h *Handle) Drain(ctx context.Context) error {
	return h.set(ctx, Backward)
}

func (h *Handle) Stop(ctx context.Context) error {
	return h.set(ctx, Off)
}

func (h *Handle) Done() <-chan struct{} {
	return h.done
}
