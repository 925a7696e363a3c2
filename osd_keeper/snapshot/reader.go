package snapshot

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kuaishou/open_osd_keeper/osd_keeper/logging"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/mgr"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/osd"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/status"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/third_party"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/utils"
)

const (
	kPerfNamespace = "osd_keeper"
)

type Reader struct {
	cp          mgr.ControlPlane
	callTimeout time.Duration

	refreshMu sync.Mutex
	latest    atomic.Pointer[Snapshot]
	refreshes atomic.Int64
}

type readerOpts func(r *Reader)

func WithCallTimeout(timeout time.Duration) readerOpts {
	return func(r *Reader) {
		r.callTimeout = timeout
	}
}

func NewReader(cp mgr.ControlPlane, opts ...readerOpts) *Reader {
	r := &Reader{
		cp:          cp,
		callTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func toNode(raw *mgr.RawOsd) *osd.Node {
	n := osd.NewNode(raw.Id, raw.In != 0, raw.Up != 0, append([]string(nil), raw.State...))
	n.Host = raw.Host.Name
	n.Weight = raw.Weight
	if raw.Stats != nil {
		n.Stats = *raw.Stats
	} else {
		n.Partial = true
	}
	if raw.StatsHistory != nil {
		n.OpOutBytes = append([]osd.Sample(nil), raw.StatsHistory.OpOutBytes...)
		n.OpInBytes = append([]osd.Sample(nil), raw.StatsHistory.OpInBytes...)
	} else {
		n.Partial = true
	}
	return n
}

func (r *Reader) read(ctx context.Context) (*Snapshot, error) {
	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	raws, err := r.cp.ListOsds(callCtx)
	cancel()
	third_party.PerfLog(kPerfNamespace, "snapshot.read_cost", uint64(time.Since(start).Microseconds()))
	if err != nil {
		third_party.PerfLog(kPerfNamespace, "snapshot.read_fail", 1)
		es := status.FromError(err)
		logging.Warning("read osd list failed: %s", es.Error())
		if es.Code == status.Unavailable {
			return nil, es
		}
		return nil, status.ErrorMsg(status.Unavailable, "read osd list: %s", es.Error())
	}

	nodes := make([]*osd.Node, 0, len(raws))
	for _, raw := range raws {
		nodes = append(nodes, toNode(raw))
	}
	return newSnapshot(nodes, time.Now()), nil
}

// Refresh reads all nodes and publishes them as the latest snapshot. If some
// nodes lack stats they are still published, flagged Partial, and the error
// is PartialData. Nothing is published when the control plane fails.
func (r *Reader) Refresh(ctx context.Context) ([]*osd.Node, error) {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()
	r.refreshes.Add(1)

	snap, err := r.read(ctx)
	if err != nil {
		return nil, err
	}
	r.latest.Store(snap)

	partial := snap.PartialIds()
	third_party.PerfLog(kPerfNamespace, "osd.count", uint64(snap.Len()))
	third_party.PerfLog(kPerfNamespace, "osd.partial_count", uint64(len(partial)))
	logging.Verbose(1, "published snapshot of %d osds, tags: %v", snap.Len(), snap.CountByTag())

	output := append([]*osd.Node(nil), snap.Nodes...)
	if len(partial) > 0 {
		logging.Warning("osds %v reported incomplete stats", partial)
		return output, status.ErrorMsg(
			status.PartialData,
			"osds [%s] reported incomplete stats",
			utils.JoinIds(partial),
		)
	}
	return output, nil
}

// ReadCurrent reads the nodes as the control plane reports them now. The
// result is neither published nor counted as a refresh, and nodes with
// incomplete stats are not an error.
func (r *Reader) ReadCurrent(ctx context.Context) (*Snapshot, error) {
	return r.read(ctx)
}

// Latest is nil before the first successful refresh.
func (r *Reader) Latest() *Snapshot {
	return r.latest.Load()
}

// ValidIDs is empty before the first successful refresh.
func (r *Reader) ValidIDs() osd.IdSet {
	snap := r.Latest()
	if snap == nil {
		return osd.NewIdSet()
	}
	return snap.Ids()
}

func (r *Reader) RefreshCount() int64 {
	return r.refreshes.Load()
}
