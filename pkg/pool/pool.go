// Copyright 2019 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package pool implements the WorkerPool of spec.md §4.3: the set of
// Worker replicas backing one registered model, fed by a Job Queue and
// Batcher, scaled and retired under the Device Planner's allocation.
package pool

import (
	"fmt"
	"sync"
	"time"

	multierror "github.com/hashicorp/go-multierror"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/inferx/servingcore/pkg/device"
	"github.com/inferx/servingcore/pkg/engine"
	logger "github.com/inferx/servingcore/pkg/log"
	"github.com/inferx/servingcore/pkg/queue"
	"github.com/inferx/servingcore/pkg/serveerr"
	"github.com/inferx/servingcore/pkg/stream"
	"github.com/inferx/servingcore/pkg/worker"
)

var log = logger.NewLogger("worker-pool")

// idleWaitFallback bounds how long dispatch can wait on a missed idle
// notification before rechecking for itself; it is a safety net, not
// the primary wakeup path.
const idleWaitFallback = 50 * time.Millisecond

// Config bundles the pool's static per-model parameters.
type Config struct {
	ModelID     string
	ModelURL    string
	Adapter     engine.Adapter
	EngineOpts  engine.Options
	MinWorkers  int
	MaxBatch    int
	MaxDelay    time.Duration
	QueueCap    int // 0 means default to 2*MaxBatch, per spec.md §4.4
	IdleTimeout time.Duration
}

// Pool is the WorkerPool for one model: it owns the job queue, the
// batcher draining it, and the live Worker set, and mediates all
// register/unregister/scale/submit traffic for this model.
type Pool struct {
	cfg Config

	planner *device.Planner

	q       *queue.Queue
	batcher *queue.Batcher

	mu      sync.Mutex
	workers []*worker.Worker
	pending map[string]*stream.Result // jobID -> result, while queued/in-flight
	rr      atomic.Uint64
	closed  bool

	idleCh chan struct{} // signaled whenever a worker returns to Idle

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Pool. It does not start any workers; call Register to
// bring the pool up to cfg.MinWorkers.
func New(cfg Config, planner *device.Planner) *Pool {
	if cfg.MaxBatch < 1 {
		cfg.MaxBatch = 1
	}
	if cfg.QueueCap <= 0 {
		cfg.QueueCap = 2 * cfg.MaxBatch
	}
	if cfg.MinWorkers < 1 {
		cfg.MinWorkers = 1
	}

	q := queue.New(cfg.QueueCap)
	p := &Pool{
		cfg:     cfg,
		planner: planner,
		q:       q,
		batcher: queue.NewBatcher(q, cfg.MaxBatch, cfg.MaxDelay),
		pending: make(map[string]*stream.Result),
		idleCh:  make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
	return p
}

// Register brings the pool's worker set up to MinWorkers, planning
// device slots and loading each worker's engine. It is atomic: if any
// worker fails to start, every slot planned in this call is released
// and already-started workers in this call are torn down.
func (p *Pool) Register(m device.ModelInfo) error {
	need := m.MaxWorkers
	if need < p.cfg.MinWorkers {
		need = p.cfg.MinWorkers
	}

	slots, err := p.planSlots(m, need)
	if err != nil {
		return err
	}

	started := make([]*worker.Worker, 0, len(slots))
	for i, slot := range slots {
		w := worker.New(fmt.Sprintf("%s-%d", p.cfg.ModelID, i), p.cfg.Adapter, slot)
		w.OnIdle(p.notifyIdle)
		if err := w.Load(p.cfg.ModelURL, p.cfg.EngineOpts); err != nil {
			for _, sw := range started {
				sw.Stop()
			}
			for _, s := range slots {
				_ = p.planner.ReleaseSet(s, p.cfg.ModelID)
			}
			return err
		}
		started = append(started, w)
	}

	p.mu.Lock()
	p.workers = started
	p.mu.Unlock()

	p.wg.Add(1)
	go p.consumeLoop()
	go p.batcher.Run()
	p.track()

	log.Debug("pool %s: registered with %d workers", p.cfg.ModelID, len(started))
	return nil
}

// planSlots accumulates need device slots for m. The CPU fallback
// always plans exactly one slot per call (spec.md's deviceSpec table),
// so a model wanting several CPU workers is satisfied by repeating the
// call rather than by the Planner inventing a multi-slot CPU plan.
func (p *Pool) planSlots(m device.ModelInfo, need int) ([]device.Set, error) {
	if need < 1 {
		need = 1
	}

	first, err := p.planner.Plan(m)
	if err != nil {
		return nil, err
	}
	slots := append([]device.Set{}, first.Slots...)

	if first.IsCPU() {
		for len(slots) < need {
			next, err := p.planner.Plan(m)
			if err != nil {
				for _, s := range slots {
					_ = p.planner.ReleaseSet(s, p.cfg.ModelID)
				}
				return nil, err
			}
			slots = append(slots, next.Slots...)
		}
	}

	return slots, nil
}

// Unregister drains and stops every worker, then releases their device
// slots. In-flight batches are allowed to complete; newly queued jobs
// beyond that point are rejected with ERR_SHUTDOWN.
func (p *Pool) Unregister() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	workers := p.workers
	p.workers = nil
	p.mu.Unlock()

	p.untrack()
	close(p.stopCh)
	p.batcher.Stop()

	for _, w := range workers {
		w.Drain()
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs *multierror.Error
	for _, w := range workers {
		wg.Add(1)
		go func(w *worker.Worker) {
			defer wg.Done()
			w.Stop()
			if err := p.planner.ReleaseSet(w.Devices(), p.cfg.ModelID); err != nil {
				mu.Lock()
				errs = multierror.Append(errs, err)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	p.wg.Wait()

	return errs.ErrorOrNil()
}

// Scale adjusts the worker count to target by planning additional
// slots (growing) or draining and releasing the highest-indexed
// workers (shrinking). target is clamped to at least MinWorkers.
func (p *Pool) Scale(m device.ModelInfo, target int) error {
	if target < p.cfg.MinWorkers {
		target = p.cfg.MinWorkers
	}

	p.mu.Lock()
	current := len(p.workers)
	p.mu.Unlock()

	if target == current {
		return nil
	}
	if target > current {
		return p.scaleUp(m, target-current)
	}
	return p.scaleDown(current - target)
}

func (p *Pool) scaleUp(m device.ModelInfo, add int) error {
	m.MaxWorkers = add
	slots, err := p.planSlots(m, add)
	if err != nil {
		return err
	}

	added := make([]*worker.Worker, 0, len(slots))
	p.mu.Lock()
	base := len(p.workers)
	p.mu.Unlock()

	for i, slot := range slots {
		w := worker.New(fmt.Sprintf("%s-%d", p.cfg.ModelID, base+i), p.cfg.Adapter, slot)
		w.OnIdle(p.notifyIdle)
		if err := w.Load(p.cfg.ModelURL, p.cfg.EngineOpts); err != nil {
			for _, sw := range added {
				sw.Stop()
			}
			for _, s := range slots {
				_ = p.planner.ReleaseSet(s, p.cfg.ModelID)
			}
			return err
		}
		added = append(added, w)
	}

	p.mu.Lock()
	p.workers = append(p.workers, added...)
	p.mu.Unlock()

	log.Debug("pool %s: scaled up by %d workers", p.cfg.ModelID, len(added))
	return nil
}

func (p *Pool) scaleDown(remove int) error {
	p.mu.Lock()
	if remove > len(p.workers)-p.cfg.MinWorkers {
		remove = len(p.workers) - p.cfg.MinWorkers
	}
	if remove <= 0 {
		p.mu.Unlock()
		return nil
	}
	cut := p.workers[len(p.workers)-remove:]
	p.workers = p.workers[:len(p.workers)-remove]
	p.mu.Unlock()

	var errs *multierror.Error
	for _, w := range cut {
		w.Drain()
		w.Stop()
		if err := p.planner.ReleaseSet(w.Devices(), p.cfg.ModelID); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	log.Debug("pool %s: scaled down by %d workers", p.cfg.ModelID, len(cut))
	return errs.ErrorOrNil()
}

// Submit enqueues a job and returns its StreamingResult immediately,
// before any worker has necessarily picked it up.
func (p *Pool) Submit(jobID string, payload []byte) (*stream.Result, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, serveerr.New(serveerr.Shutdown, "pool %s: shutting down", p.cfg.ModelID)
	}
	p.mu.Unlock()

	j := queue.Job{ID: jobID, Payload: payload, SubmittedAt: time.Now()}
	if err := p.q.Push(j); err != nil {
		return nil, err
	}

	res := stream.New(32, 30*time.Second)
	p.mu.Lock()
	p.pending[jobID] = res
	p.mu.Unlock()

	p.batcher.Notify()
	return res, nil
}

// consumeLoop pulls batches from the batcher and dispatches each to an
// idle worker, round-robin, waiting against the pool's worker set until
// one is free or the pool is stopped. Batches are handled one at a
// time, so jobs submitted to the same pool are dispatched in
// submission order (spec.md §5).
func (p *Pool) consumeLoop() {
	defer p.wg.Done()

	for {
		select {
		case batch, ok := <-p.batcher.Batches():
			if !ok {
				return
			}
			p.dispatch(batch)
		case <-p.stopCh:
			return
		}
	}
}

func (p *Pool) dispatch(batch []queue.Job) {
	results := make([]*stream.Result, len(batch))
	for i, j := range batch {
		p.mu.Lock()
		res := p.pending[j.ID]
		delete(p.pending, j.ID)
		p.mu.Unlock()
		if res == nil {
			res = stream.New(1, time.Second)
			res.Fail(serveerr.New(serveerr.WorkerFault, "no pending result for job %s", j.ID))
		}
		results[i] = res
	}

	w := p.waitForIdle()
	if w == nil {
		err := serveerr.New(serveerr.Shutdown, "pool %s: stopped while waiting for a worker", p.cfg.ModelID)
		for _, r := range results {
			r.Fail(err)
		}
		return
	}

	if err := w.RunBatch(batch, results); err != nil {
		for _, r := range results {
			r.Fail(err)
		}
	}
}

// waitForIdle blocks until an idle worker is available or the pool is
// stopped (spec.md §4.4: dispatch is non-blocking if a worker is
// already free, otherwise the batcher waits on an idle-worker
// condition rather than failing the batch). Since consumeLoop processes
// one batch at a time, at most one call is ever waiting here per pool,
// so the single-slot idleCh cannot miss a wakeup meant for it.
func (p *Pool) waitForIdle() *worker.Worker {
	ticker := time.NewTicker(idleWaitFallback)
	defer ticker.Stop()

	for {
		if w := p.pickIdle(); w != nil {
			return w
		}
		select {
		case <-p.idleCh:
		case <-ticker.C:
		case <-p.stopCh:
			return nil
		}
	}
}

// notifyIdle wakes a dispatch call waiting in waitForIdle for worker
// capacity; it is the worker.OnIdle callback for every worker this pool owns.
func (p *Pool) notifyIdle() {
	select {
	case p.idleCh <- struct{}{}:
	default:
	}
}

// pickIdle does a round-robin scan starting from the next index after
// the last dispatch, so load spreads evenly across Idle workers.
func (p *Pool) pickIdle() *worker.Worker {
	p.mu.Lock()
	workers := p.workers
	p.mu.Unlock()

	n := len(workers)
	if n == 0 {
		return nil
	}
	start := int(p.rr.Inc()-1) % n
	for i := 0; i < n; i++ {
		w := workers[(start+i)%n]
		if w.Available() {
			return w
		}
	}
	return nil
}

// sweepIdle retires workers idle beyond IdleTimeout, never below
// max(1, MinWorkers). It is meant to be called periodically (period
// <= IdleTimeout/2) by the caller owning this pool's lifecycle.
func (p *Pool) sweepIdle() {
	if p.cfg.IdleTimeout <= 0 {
		return
	}

	floor := p.cfg.MinWorkers
	if floor < 1 {
		floor = 1
	}

	p.mu.Lock()
	if len(p.workers) <= floor {
		p.mu.Unlock()
		return
	}
	candidates := make([]*worker.Worker, len(p.workers))
	copy(candidates, p.workers)
	p.mu.Unlock()

	now := time.Now()
	var retire []*worker.Worker
	for _, w := range candidates {
		if w.Available() && now.Sub(w.LastUse()) >= p.cfg.IdleTimeout {
			retire = append(retire, w)
		}
	}

	p.mu.Lock()
	room := len(p.workers) - floor
	p.mu.Unlock()
	if room <= 0 {
		return
	}
	if len(retire) > room {
		retire = retire[:room]
	}
	if len(retire) == 0 {
		return
	}

	p.mu.Lock()
	remaining := p.workers[:0]
	retireSet := make(map[*worker.Worker]bool, len(retire))
	for _, w := range retire {
		retireSet[w] = true
	}
	for _, w := range p.workers {
		if !retireSet[w] {
			remaining = append(remaining, w)
		}
	}
	p.workers = remaining
	p.mu.Unlock()

	var eg errgroup.Group
	for _, w := range retire {
		w := w
		eg.Go(func() error {
			w.Drain()
			w.Stop()
			return p.planner.ReleaseSet(w.Devices(), p.cfg.ModelID)
		})
	}
	if err := eg.Wait(); err != nil {
		log.Warn("pool %s: idle sweep release error: %v", p.cfg.ModelID, err)
	}
	log.Debug("pool %s: idle sweep retired %d workers", p.cfg.ModelID, len(retire))
}

// StartIdleSweep runs sweepIdle on a ticker until Unregister is called.
func (p *Pool) StartIdleSweep() {
	if p.cfg.IdleTimeout <= 0 {
		return
	}
	period := p.cfg.IdleTimeout / 2
	if period <= 0 {
		period = time.Second
	}
	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.sweepIdle()
			case <-p.stopCh:
				return
			}
		}
	}()
}

// WorkerCount reports the current live worker count, for metrics/tests.
func (p *Pool) WorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}
