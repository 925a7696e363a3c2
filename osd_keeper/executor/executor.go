package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/kuaishou/open_osd_keeper/osd_keeper/logging"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/mgr"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/osd"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/safety"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/status"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/third_party"
)

type Params struct {
	Weight float64 `json:"weight"`
}

// Applied describes a successful transition. NoOp is set when the osd was
// already in the target state, Deselect when the osd left the cluster map.
type Applied struct {
	Id       int64    `json:"id"`
	Kind     osd.Kind `json:"kind"`
	NoOp     bool     `json:"no_op"`
	Deselect bool     `json:"deselect"`
	Attempts int      `json:"attempts"`
}

type handler func(ctx context.Context, cp mgr.ControlPlane, id int64, params Params) error

func markHandler(action string) handler {
	return func(ctx context.Context, cp mgr.ControlPlane, id int64, params Params) error {
		return cp.Mark(ctx, id, action)
	}
}

func scrubHandler(deep bool) handler {
	return func(ctx context.Context, cp mgr.ControlPlane, id int64, params Params) error {
		return cp.Scrub(ctx, id, deep)
	}
}

var kindHandlers = [osd.KindCount]handler{
	osd.MarkIn:   markHandler(mgr.ActionIn),
	osd.MarkOut:  markHandler(mgr.ActionOut),
	osd.MarkDown: markHandler(mgr.ActionDown),
	osd.MarkLost: markHandler(mgr.ActionLost),
	osd.Reweight: func(ctx context.Context, cp mgr.ControlPlane, id int64, params Params) error {
		return cp.Reweight(ctx, id, params.Weight)
	},
	osd.Destroy: func(ctx context.Context, cp mgr.ControlPlane, id int64, params Params) error {
		return cp.Destroy(ctx, id)
	},
	osd.Purge: func(ctx context.Context, cp mgr.ControlPlane, id int64, params Params) error {
		return cp.Purge(ctx, id)
	},
	osd.Scrub:     scrubHandler(false),
	osd.DeepScrub: scrubHandler(true),
}

func init() {
	for _, kind := range osd.AllKinds() {
		if kindHandlers[kind] == nil {
			panic(fmt.Sprintf("no handler for osd kind %s", kind.String()))
		}
	}
}

// ValidateParams checks the parameters of kind without touching the cluster.
func ValidateParams(kind osd.Kind, params Params) *status.ErrorStatus {
	if !kind.Valid() {
		return status.ErrorMsg(status.InvalidParameter, "invalid osd action %s", kind.String())
	}
	if kind == osd.Reweight && (params.Weight <= 0 || params.Weight > 1) {
		return status.ErrorMsg(status.InvalidParameter, "weight %v should be in (0, 1]", params.Weight)
	}
	return nil
}

// Executor issues exactly one state changing call per attempt, and at most
// 2 attempts when the control plane reports a conflict.
type Executor struct {
	cp          mgr.ControlPlane
	callTimeout time.Duration
}

type executorOpts func(e *Executor)

func WithCallTimeout(timeout time.Duration) executorOpts {
	return func(e *Executor) {
		e.callTimeout = timeout
	}
}

func NewExecutor(cp mgr.ControlPlane, opts ...executorOpts) *Executor {
	e := &Executor{cp: cp, callTimeout: 10 * time.Second}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply runs a non-destructive transition. markLost, destroy and purge must
// go through ApplyCleared.
func (e *Executor) Apply(
	ctx context.Context,
	id int64,
	kind osd.Kind,
	params Params,
) (*Applied, *status.ErrorStatus) {
	if err := ValidateParams(kind, params); err != nil {
		return nil, err
	}
	if kind.Destructive() {
		return nil, status.ErrorMsg(
			status.InvalidParameter,
			"%s on osd.%d requires safety clearance",
			kind.String(), id,
		)
	}
	return e.run(ctx, id, kind, params)
}

func (e *Executor) ApplyCleared(ctx context.Context, c safety.Clearance) (*Applied, *status.ErrorStatus) {
	if !c.Valid() {
		return nil, status.ErrorMsg(status.InvalidParameter, "invalid safety clearance")
	}
	return e.run(ctx, c.Id(), c.Kind(), Params{})
}

func (e *Executor) call(ctx context.Context, id int64, kind osd.Kind, params Params) *status.ErrorStatus {
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	start := time.Now()
	err := kindHandlers[kind](callCtx, e.cp, id, params)
	es := status.FromError(err)
	code := status.CodeOf(err)
	third_party.PerfLog2(
		"osd_keeper",
		"osd.transition_cost",
		kind.String(),
		code.String(),
		uint64(time.Since(start).Microseconds()),
	)
	if es != nil {
		logging.Info("[executor] %s osd.%d failed: %s", kind.String(), id, es.Error())
	} else {
		logging.Info("[executor] %s osd.%d took %v", kind.String(), id, time.Since(start))
	}
	return es
}

// satisfied re-reads the osd. A removed osd satisfies every removal kind.
func (e *Executor) satisfied(ctx context.Context, id int64, kind osd.Kind) bool {
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	raws, err := e.cp.ListOsds(callCtx)
	if err != nil {
		logging.Warning("[executor] re-read osd.%d failed: %v", id, err)
		return false
	}
	for _, raw := range raws {
		if raw.Id == id {
			return kind.Satisfied(osd.NewNode(raw.Id, raw.In != 0, raw.Up != 0, raw.State))
		}
	}
	return kind.Removal()
}

func (e *Executor) run(
	ctx context.Context,
	id int64,
	kind osd.Kind,
	params Params,
) (*Applied, *status.ErrorStatus) {
	applied := &Applied{Id: id, Kind: kind, Deselect: kind.Removal()}
	for applied.Attempts < 2 {
		applied.Attempts++
		err := e.call(ctx, id, kind, params)
		switch {
		case err == nil:
			return applied, nil
		case err.Code == status.NotFound && kind.Removal():
			logging.Info("[executor] osd.%d is gone, treat %s as done", id, kind.String())
			applied.NoOp = true
			return applied, nil
		case err.Code == status.Conflict && applied.Attempts == 1:
			if e.satisfied(ctx, id, kind) {
				logging.Info("[executor] osd.%d already satisfies %s", id, kind.String())
				applied.NoOp = true
				return applied, nil
			}
			logging.Warning("[executor] %s osd.%d conflicts, retry once", kind.String(), id)
		default:
			return nil, err
		}
	}
	return nil, status.ErrorMsg(status.Conflict, "%s osd.%d kept conflicting", kind.String(), id)
}
