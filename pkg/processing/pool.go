package processing

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/autonlab/auviewer/pkg/container"
	"github.com/autonlab/auviewer/pkg/logging"
)

// Job is one file to process.
type Job struct {
	Name        string
	Source      string
	Destination string
}

// Pool runs jobs on a bounded number of workers. Jobs share nothing, so one
// failing job never affects the others. A job whose file is already being
// processed by another Run is skipped.
type Pool struct {
	workers int
	opts    container.Options
	logger  *zap.Logger

	mu       sync.Mutex
	inflight map[string]bool

	// OnResult, if set, is called after every job from the worker goroutine.
	OnResult func(Result)
}

// NewPool creates a pool with the given worker count
func NewPool(workers int, opts container.Options) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		workers:  workers,
		opts:     opts,
		logger:   logging.OrNop(opts.Logger),
		inflight: make(map[string]bool),
	}
}

// Run processes every job and returns one result per job, in job order.
// Failed jobs carry their error in Result.Err. Run returns ctx.Err() if the
// context was cancelled.
func (p *Pool) Run(ctx context.Context, jobs []Job) ([]Result, error) {
	results := make([]Result, len(jobs))

	var g errgroup.Group
	g.SetLimit(p.workers)

	for i, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res := p.process(ctx, job)
			results[i] = *res
			if p.OnResult != nil {
				p.OnResult(*res)
			}
			return nil
		})
	}

	_ = g.Wait()
	return results, ctx.Err()
}

func (p *Pool) process(ctx context.Context, job Job) *Result {
	if !p.acquire(job.Destination) {
		p.logger.Debug("file already in progress", zap.String("file", job.Name))
		return &Result{File: job.Name, Skipped: true}
	}
	defer p.release(job.Destination)

	res, err := ProcessFile(ctx, job.Name, job.Source, job.Destination, p.opts)
	if err != nil {
		p.logger.Error("file processing failed", zap.String("file", job.Name), zap.Error(err))
		return &Result{File: job.Name, Err: err}
	}
	return res
}

func (p *Pool) acquire(dst string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inflight[dst] {
		return false
	}
	p.inflight[dst] = true
	return true
}

func (p *Pool) release(dst string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inflight, dst)
}

// Process runs a single job through the pool
func (p *Pool) Process(ctx context.Context, job Job) (Result, error) {
	results, err := p.Run(ctx, []Job{job})
	if err != nil {
		return Result{}, err
	}
	return results[0], results[0].Err
}
