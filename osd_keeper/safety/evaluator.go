package safety

import (
	"context"
	"fmt"
	"time"

	"github.com/kuaishou/open_osd_keeper/osd_keeper/logging"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/mgr"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/osd"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/snapshot"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/status"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/third_party"
)

const (
	kReasonNoMetadata = "placement group metadata unavailable"
)

// Evaluator decides whether irreversible transitions may proceed. It never
// changes cluster state and never caches verdicts.
type Evaluator struct {
	cp                mgr.ControlPlane
	reader            *snapshot.Reader
	callTimeout       time.Duration
	removalRequiresUp bool
}

type evaluatorOpts func(e *Evaluator)

func WithCallTimeout(timeout time.Duration) evaluatorOpts {
	return func(e *Evaluator) {
		e.callTimeout = timeout
	}
}

// WithRemovalRequiresUp controls whether destroy and purge are refused on
// osds which are not up.
func WithRemovalRequiresUp(flag bool) evaluatorOpts {
	return func(e *Evaluator) {
		e.removalRequiresUp = flag
	}
}

func NewEvaluator(cp mgr.ControlPlane, reader *snapshot.Reader, opts ...evaluatorOpts) *Evaluator {
	e := &Evaluator{
		cp:                cp,
		reader:            reader,
		callTimeout:       10 * time.Second,
		removalRequiresUp: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// evaluationError keeps the code of a control plane error and wraps only
// transport failures as Unavailable.
func evaluationError(what string, err error) *status.ErrorStatus {
	es := status.FromError(err)
	return status.ErrorMsg(es.Code, "%s: %s", what, es.Message)
}

// Evaluate returns one verdict per distinct id. Up/down state is read from
// the control plane on every call. Candidates which pass the per-node checks
// are treated as removed together when checking placement group health.
func (e *Evaluator) Evaluate(
	ctx context.Context,
	ids []int64,
	kind osd.Kind,
) (map[int64]*Verdict, error) {
	if !kind.Destructive() {
		return nil, status.ErrorMsg(
			status.InvalidParameter,
			"safety is only evaluated for markLost, destroy and purge, not %s",
			kind.String(),
		)
	}
	candidates := osd.NewIdSet(ids...)
	output := make(map[int64]*Verdict, len(candidates))
	if len(candidates) == 0 {
		return output, nil
	}

	current, err := e.reader.ReadCurrent(ctx)
	if err != nil {
		return nil, evaluationError("read osd states", err)
	}
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	payload, err := e.cp.SafetyInfo(callCtx, candidates.Sorted())
	cancel()
	if err != nil {
		logging.Warning("get safety info of %v failed: %v", candidates.Sorted(), err)
		return nil, evaluationError("read placement group health", err)
	}

	removable := osd.NewIdSet()
	for _, id := range candidates.Sorted() {
		v, checkPgs := e.checkNode(id, kind, current.Get(id), payload.Find(id))
		output[id] = v
		if checkPgs {
			removable.Add(id)
		}
	}
	checkPlacementGroups(output, removable, payload)

	for _, id := range candidates.Sorted() {
		v := output[id]
		v.issued = true
		third_party.PerfLog1("osd_keeper", "safety.verdict", v.Eligibility.String(), 1)
		logging.Info("osd.%d %s for %s, reasons: %v", id, v.Eligibility.String(), kind.String(), v.Reasons)
	}
	return output, nil
}

// checkNode applies the rules which only depend on the node itself. The
// second return is true if placement group health still has to be checked.
func (e *Evaluator) checkNode(
	id int64,
	kind osd.Kind,
	node *osd.Node,
	info *mgr.OsdSafetyInfo,
) (*Verdict, bool) {
	v := &Verdict{Id: id, Kind: kind, Eligibility: Eligible, Reasons: []string{}}
	if info == nil || !info.MetadataAvailable {
		return v.block(Unknown, kReasonNoMetadata), false
	}
	if node == nil {
		return v.block(Unknown, fmt.Sprintf("osd.%d is not in the osd list", id)), false
	}
	up := node.Tag.Availability == osd.Up
	if kind.Removal() && e.removalRequiresUp && !up {
		return v.block(Ineligible, fmt.Sprintf("osd.%d is not up", id)), false
	}
	if kind == osd.MarkLost && !up {
		return v, false
	}
	return v, true
}

func degradedPgs(info *mgr.OsdSafetyInfo, removed osd.IdSet) []string {
	var reasons []string
	for _, pg := range info.Pgs {
		remaining := 0
		for _, member := range pg.Live {
			if !removed.Contains(member) {
				remaining++
			}
		}
		if remaining < pg.MinSize {
			reasons = append(reasons, fmt.Sprintf(
				"pg %s would be left with %d of min %d live replicas",
				pg.PgId, remaining, pg.MinSize,
			))
		}
	}
	return reasons
}

// checkPlacementGroups blocks every node of removable whose removal breaks a
// placement group. A node which breaks one alone never counts as removed for
// the others. The rest is checked jointly until the set is stable, so all
// nodes left eligible can be removed together.
func checkPlacementGroups(output map[int64]*Verdict, removable osd.IdSet, payload *mgr.SafetyPayload) {
	block := func(id int64, reasons []string) {
		for _, reason := range reasons {
			output[id].block(Ineligible, reason)
		}
		delete(removable, id)
	}
	for _, id := range removable.Sorted() {
		if reasons := degradedPgs(payload.Find(id), osd.NewIdSet(id)); len(reasons) > 0 {
			block(id, reasons)
		}
	}
	for len(removable) > 0 {
		blocked := map[int64][]string{}
		for _, id := range removable.Sorted() {
			if reasons := degradedPgs(payload.Find(id), removable); len(reasons) > 0 {
				blocked[id] = reasons
			}
		}
		if len(blocked) == 0 {
			return
		}
		for id, reasons := range blocked {
			block(id, reasons)
		}
	}
}
