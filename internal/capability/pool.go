package capability

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolClosed is returned when work is submitted after Close.
var ErrPoolClosed = errors.New("capability worker pool closed")

// pool runs blocking capability handlers on a fixed number of workers so a
// slow synchronous implementation cannot starve concurrent dispatch.
type pool struct {
	jobs     chan func()
	quit     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func newPool(size int) *pool {
	if size <= 0 {
		size = 4
	}
	p := &pool{jobs: make(chan func()), quit: make(chan struct{})}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

func (p *pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case job := <-p.jobs:
			job()
		case <-p.quit:
			return
		}
	}
}

// submit hands job to a free worker, waiting until one is available or ctx
// is done.
func (p *pool) submit(ctx context.Context, job func()) error {
	select {
	case <-p.quit:
		return ErrPoolClosed
	default:
	}
	select {
	case p.jobs <- job:
		return nil
	case <-p.quit:
		return ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pool) close() {
	p.stopOnce.Do(func() {
		close(p.quit)
		p.wg.Wait()
	})
}
