package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kuaishou/open_osd_keeper/osd_keeper/dbg"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/executor"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/logging"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/metastore"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/mgr"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/osd"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/safety"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/snapshot"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/status"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/third_party"

	"github.com/google/uuid"
	"github.com/zhangyunhao116/skipmap"
)

type Coordinator struct {
	cp          mgr.ControlPlane
	reader      *snapshot.Reader
	evaluator   *safety.Evaluator
	executor    *executor.Executor
	journal     *runJournal
	maxInflight int
	callTimeout time.Duration

	// osd id -> run id, only for destructive runs
	inflight *skipmap.OrderedMap[int64, string]
}

type Option func(c *Coordinator)

func WithMaxInflightCalls(count int) Option {
	return func(c *Coordinator) {
		if count > 0 {
			c.maxInflight = count
		}
	}
}

// WithJournal records every run under <prefix>/bulk_runs of store, keeping
// the newest retention runs.
func WithJournal(store metastore.MetaStore, prefix string, retention int) Option {
	return func(c *Coordinator) {
		c.journal = newRunJournal(store, prefix, retention)
	}
}

func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Coordinator) {
		c.callTimeout = timeout
	}
}

func NewCoordinator(
	cp mgr.ControlPlane,
	reader *snapshot.Reader,
	evaluator *safety.Evaluator,
	exec *executor.Executor,
	opts ...Option,
) *Coordinator {
	c := &Coordinator{
		cp:          cp,
		reader:      reader,
		evaluator:   evaluator,
		executor:    exec,
		maxInflight: 16,
		callTimeout: 10 * time.Second,
		inflight:    skipmap.New[int64, string](),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newRunId() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// GetSnapshot returns the latest snapshot, reading it first if refresh is
// set or there is none yet.
func (c *Coordinator) GetSnapshot(ctx context.Context, refresh bool) ([]*osd.Node, error) {
	if snap := c.reader.Latest(); snap != nil && !refresh {
		return append([]*osd.Node(nil), snap.Nodes...), nil
	}
	return c.reader.Refresh(ctx)
}

func (c *Coordinator) EvaluateSafety(
	ctx context.Context,
	ids []int64,
	kind osd.Kind,
) (map[int64]*safety.Verdict, error) {
	return c.evaluator.Evaluate(ctx, ids, kind)
}

// InflightIds lists osds claimed by running destructive batches.
func (c *Coordinator) InflightIds() []int64 {
	var output []int64
	c.inflight.Range(func(id int64, runId string) bool {
		output = append(output, id)
		return true
	})
	return output
}

func (c *Coordinator) RecentRuns(ctx context.Context, limit int) ([]*BulkResult, *status.ErrorStatus) {
	if c.journal == nil {
		return []*BulkResult{}, nil
	}
	return c.journal.recent(ctx, limit)
}

func (c *Coordinator) validIds(ctx context.Context) (osd.IdSet, error) {
	if c.reader.Latest() == nil {
		_, err := c.reader.Refresh(ctx)
		if code := status.CodeOf(err); code != status.Ok && code != status.PartialData {
			return nil, err
		}
	}
	return c.reader.ValidIDs(), nil
}

func (c *Coordinator) claim(runId string, ids []int64) (claimed, busy []int64) {
	for _, id := range ids {
		if owner, loaded := c.inflight.LoadOrStore(id, runId); loaded {
			logging.Info("[coordinator] osd.%d is held by run %s", id, owner)
			busy = append(busy, id)
		} else {
			claimed = append(claimed, id)
		}
	}
	return
}

func (c *Coordinator) release(ids []int64) {
	for _, id := range ids {
		c.inflight.Delete(id)
	}
}

type bulkTask struct {
	id        int64
	clearance safety.Clearance
}

// RunBulk applies kind to every osd of sel which is still in the snapshot.
// Failures of single osds never stop the others. The returned error is set
// when the run as a whole was cut short, the result is complete anyway.
func (c *Coordinator) RunBulk(
	ctx context.Context,
	sel osd.Selection,
	kind osd.Kind,
	params executor.Params,
) (*BulkResult, error) {
	if err := executor.ValidateParams(kind, params); err != nil {
		return nil, err
	}
	valid, err := c.validIds(ctx)
	if err != nil {
		return nil, err
	}
	filtered := sel.Intersect(valid)
	if kind.SingleNode() && filtered.Len() != 1 {
		return nil, status.ErrorMsg(
			status.InvalidParameter,
			"%s takes exactly 1 existing osd, got %d",
			kind.String(), filtered.Len(),
		)
	}

	runId := newRunId()
	recorder := newResultRecorder(runId, kind, params, filtered)
	logging.Info(
		"[coordinator] run %s: %s on %v, %d stale ids dropped",
		runId, kind.String(), filtered.Ids(), sel.Len()-filtered.Len(),
	)
	if filtered.Empty() {
		return recorder.finish(false), nil
	}
	if kind.Destructive() && dbg.RunInSafeMode() {
		recorder.failAll(filtered.Ids(), status.ErrorMsg(status.SafeMode, "%s", dbg.ErrSkipRunAsInSafeMode.Error()))
		return recorder.finish(false), status.ErrorMsg(status.SafeMode, "refuse %s in safe mode", kind.String())
	}

	start := time.Now()
	var runErr *status.ErrorStatus
	if kind.Destructive() {
		runErr = c.runDestructive(ctx, runId, filtered.Ids(), kind, recorder)
		if _, err := c.reader.Refresh(context.WithoutCancel(ctx)); status.CodeOf(err) != status.Ok {
			logging.Warning("[coordinator] refresh after run %s: %v", runId, err)
		}
	} else {
		tasks := make([]bulkTask, 0, filtered.Len())
		for _, id := range filtered.Ids() {
			tasks = append(tasks, bulkTask{id: id})
		}
		runErr = c.dispatch(ctx, kind, params, tasks, recorder)
	}
	result := recorder.finish(kind.Destructive())

	third_party.PerfLog1("osd_keeper", "bulk.run_cost", kind.String(), uint64(time.Since(start).Milliseconds()))
	third_party.PerfLog1("osd_keeper", "bulk.failed", kind.String(), uint64(len(result.Failed)))
	logging.Info(
		"[coordinator] run %s finished in %v: %d succeeded, failed %v, err: %v",
		runId, time.Since(start), len(result.Succeeded), result.FailedIds(), runErr,
	)
	if c.journal != nil {
		c.journal.record(ctx, result)
	}
	if runErr != nil {
		return result, runErr
	}
	return result, nil
}

func (c *Coordinator) runDestructive(
	ctx context.Context,
	runId string,
	ids []int64,
	kind osd.Kind,
	recorder *resultRecorder,
) *status.ErrorStatus {
	claimed, busy := c.claim(runId, ids)
	defer c.release(claimed)
	for _, id := range busy {
		recorder.fail(id, status.ErrorMsg(status.InFlight, "osd.%d is part of another running batch", id))
	}
	if len(claimed) == 0 {
		return nil
	}
	if ctx.Err() != nil {
		recorder.failAll(claimed, status.ErrorMsg(status.Cancelled, "run cancelled before safety evaluation"))
		return status.ErrorMsg(status.Cancelled, "cancelled with %d osds undispatched", len(claimed))
	}

	verdicts, err := c.evaluator.Evaluate(ctx, claimed, kind)
	if err != nil {
		es := status.FromError(err)
		logging.Warning("[coordinator] run %s aborted as safety evaluation failed: %s", runId, es.Error())
		recorder.failAll(claimed, es)
		return es
	}
	tasks := []bulkTask{}
	for _, id := range claimed {
		v := verdicts[id]
		if blocked := v.Status(); blocked != nil {
			recorder.fail(id, blocked)
			continue
		}
		clearance, _ := v.Clearance()
		tasks = append(tasks, bulkTask{id: id, clearance: clearance})
	}
	return c.dispatch(ctx, kind, executor.Params{}, tasks, recorder)
}

func (c *Coordinator) applyOne(
	ctx context.Context,
	kind osd.Kind,
	params executor.Params,
	task bulkTask,
) (*executor.Applied, *status.ErrorStatus) {
	if kind.Destructive() {
		return c.executor.ApplyCleared(ctx, task.clearance)
	}
	return c.executor.Apply(ctx, task.id, kind, params)
}

// outageProbe pings the control plane once, on the first Unavailable
// failure of a run.
type outageProbe struct {
	once sync.Once
	down atomic.Bool
}

func (c *Coordinator) probe(p *outageProbe) {
	p.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.callTimeout)
		defer cancel()
		if err := c.cp.Ping(ctx); err != nil {
			logging.Warning("[coordinator] control plane is down: %v", err)
			p.down.Store(true)
		}
	})
}

// dispatch runs tasks with at most c.maxInflight concurrent calls. Calls
// already issued are not cancelled with ctx, they end by their own timeout.
func (c *Coordinator) dispatch(
	ctx context.Context,
	kind osd.Kind,
	params executor.Params,
	tasks []bulkTask,
	recorder *resultRecorder,
) *status.ErrorStatus {
	callCtx := context.WithoutCancel(ctx)
	slots := make(chan struct{}, c.maxInflight)
	probe := &outageProbe{}
	wg := sync.WaitGroup{}

	undispatched := func(from int) []int64 {
		var ids []int64
		for _, t := range tasks[from:] {
			ids = append(ids, t.id)
		}
		return ids
	}

	var runErr *status.ErrorStatus
	for i, task := range tasks {
		select {
		case <-ctx.Done():
		case slots <- struct{}{}:
		}
		if ctx.Err() != nil {
			rest := undispatched(i)
			recorder.failAll(rest, status.ErrorMsg(status.Cancelled, "run cancelled before dispatch"))
			runErr = status.ErrorMsg(status.Cancelled, "cancelled with %d osds undispatched", len(rest))
			break
		}
		if probe.down.Load() {
			<-slots
			rest := undispatched(i)
			recorder.failAll(rest, status.ErrorMsg(status.Unavailable, "control plane unavailable, not dispatched"))
			runErr = status.ErrorMsg(status.Unavailable, "control plane unavailable, %d osds undispatched", len(rest))
			break
		}

		wg.Add(1)
		go func(task bulkTask) {
			defer wg.Done()
			defer func() { <-slots }()
			applied, err := c.applyOne(callCtx, kind, params, task)
			if err != nil {
				recorder.fail(task.id, err)
				if err.Code == status.Unavailable {
					c.probe(probe)
				}
				return
			}
			recorder.succeed(applied)
		}(task)
	}
	wg.Wait()
	if runErr == nil && probe.down.Load() {
		runErr = status.ErrorMsg(status.Unavailable, "control plane went down during the run")
	}
	return runErr
}
