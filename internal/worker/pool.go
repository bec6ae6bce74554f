package worker

import (
	"context"
	"sort"
	"sync"
)

// Job represents a unit of work to be executed
type Job interface {
	Execute(ctx context.Context) Result
}

// Result represents the result of a job execution
type Result interface {
	GetError() error
}

type sequencedJob struct {
	seq int
	job Job
}

type sequencedResult struct {
	seq    int
	result Result
}

// Pool runs jobs on a fixed number of workers. Wait returns results in
// submission order regardless of completion order.
type Pool struct {
	workers    int
	jobQueue   chan sequencedJob
	wg         sync.WaitGroup
	ctx        context.Context
	cancelFunc context.CancelFunc
	closeOnce  sync.Once

	mu      sync.Mutex
	next    int
	results []sequencedResult
}

// NewPool creates a pool whose jobs run under a child of ctx
func NewPool(ctx context.Context, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(ctx)

	return &Pool{
		workers:    workers,
		jobQueue:   make(chan sequencedJob, workers*2),
		ctx:        ctx,
		cancelFunc: cancel,
	}
}

// Start starts the workers
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case sj, ok := <-p.jobQueue:
			if !ok {
				return
			}
			result := sj.job.Execute(p.ctx)

			p.mu.Lock()
			p.results = append(p.results, sequencedResult{seq: sj.seq, result: result})
			p.mu.Unlock()
		}
	}
}

// Submit queues a job; it is a no-op once the pool is shut down
func (p *Pool) Submit(job Job) {
	p.mu.Lock()
	seq := p.next
	p.next++
	p.mu.Unlock()

	select {
	case <-p.ctx.Done():
		return
	case p.jobQueue <- sequencedJob{seq: seq, job: job}:
	}
}

// Wait closes the queue, waits for all jobs and returns their results in
// submission order. No Submit may follow Wait.
func (p *Pool) Wait() []Result {
	p.closeQueue()
	p.wg.Wait()
	p.cancelFunc()
	return p.collect()
}

// Shutdown stops the pool immediately; queued jobs are dropped.
// It returns the results of jobs that had already finished.
func (p *Pool) Shutdown() []Result {
	p.cancelFunc()
	p.wg.Wait()
	return p.collect()
}

func (p *Pool) closeQueue() {
	p.closeOnce.Do(func() {
		close(p.jobQueue)
	})
}

func (p *Pool) collect() []Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	sort.Slice(p.results, func(i, j int) bool { return p.results[i].seq < p.results[j].seq })

	out := make([]Result, len(p.results))
	for i, r := range p.results {
		out[i] = r.result
	}
	return out
}
