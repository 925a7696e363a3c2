package snapshot

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/kuaishou/open_osd_keeper/osd_keeper/logging"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/mgr"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/osd"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/status"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/third_party"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/utils"

	"gotest.tools/assert"
)

func newTestCluster() *mgr.FakeCluster {
	return mgr.NewFakeCluster().
		AddOsd(3, "host-b", true, true).
		AddOsd(1, "host-a", true, true).
		AddOsd(2, "host-a", false, false).
		AddPg("1.0", 2, 1, 2, 3)
}

func TestRefreshOrdersAndTags(t *testing.T) {
	cluster := newTestCluster()
	assert.NilError(t, cluster.Destroy(context.Background(), 2))
	reader := NewReader(cluster)
	assert.Assert(t, reader.Latest() == nil)
	assert.Equal(t, len(reader.ValidIDs()), 0)

	nodes, err := reader.Refresh(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, len(nodes), 3)
	for i, n := range nodes {
		assert.Equal(t, n.Id, int64(i+1))
	}
	assert.Equal(t, nodes[0].Host, "host-a")
	assert.Equal(t, nodes[0].Tag, osd.StatusTag{Membership: osd.In, Availability: osd.Up})
	assert.Equal(t, nodes[1].Tag, osd.StatusTag{Membership: osd.Out, Availability: osd.Destroyed})
	assert.Equal(t, nodes[2].Stats.NumPg, int64(1))
	assert.Equal(t, nodes[2].Usage(), 0.25)

	snap := reader.Latest()
	assert.Assert(t, snap != nil)
	assert.Equal(t, snap.Get(3).Host, "host-b")
	assert.Assert(t, snap.Get(9) == nil)
	assert.DeepEqual(t, reader.ValidIDs().Sorted(), []int64{1, 2, 3})

	counts := snap.CountByTag()
	assert.Equal(t, len(counts), 6)
	assert.Equal(t, counts["in+up"], 2)
	assert.Equal(t, counts["out+destroyed"], 1)
}

func TestRefreshRederivesTags(t *testing.T) {
	cluster := newTestCluster()
	reader := NewReader(cluster)
	_, err := reader.Refresh(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, reader.Latest().Get(1).Tag.Membership, osd.In)

	logging.Info("mark out outside the reader, next refresh reflects it")
	assert.NilError(t, cluster.Mark(context.Background(), 1, mgr.ActionOut))
	_, err = reader.Refresh(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, reader.Latest().Get(1).Tag.Membership, osd.Out)
	assert.Equal(t, reader.RefreshCount(), int64(2))
}

func TestReadCurrentPublishesNothing(t *testing.T) {
	cluster := newTestCluster()
	cluster.DropStats(3)
	reader := NewReader(cluster)
	_, err := reader.Refresh(context.Background())
	assert.Equal(t, status.CodeOf(err), status.PartialData)
	first := reader.Latest()

	assert.NilError(t, cluster.Mark(context.Background(), 1, mgr.ActionDown))
	current, err := reader.ReadCurrent(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, current.Get(1).Tag.Availability, osd.Down)
	assert.Assert(t, current.Get(3).Partial)

	logging.Info("the published snapshot still holds the old state")
	assert.Assert(t, reader.Latest() == first)
	assert.Equal(t, reader.Latest().Get(1).Tag.Availability, osd.Up)
	assert.Equal(t, reader.RefreshCount(), int64(1))

	cluster.SetUnreachable(true)
	current, err = reader.ReadCurrent(context.Background())
	assert.Equal(t, status.CodeOf(err), status.Unavailable)
	assert.Assert(t, current == nil)
}

func TestRefreshPartialData(t *testing.T) {
	mem := third_party.NewMemPerfLogger()
	third_party.SetPerfLogger(mem)
	defer third_party.SetPerfLogger(&third_party.NullPerfLogger{})

	cluster := newTestCluster()
	cluster.DropStats(2)
	reader := NewReader(cluster)

	nodes, err := reader.Refresh(context.Background())
	assert.Equal(t, status.CodeOf(err), status.PartialData)
	assert.Assert(t, strings.Contains(err.Error(), "2"))
	assert.Equal(t, len(nodes), 3)
	assert.Assert(t, nodes[1].Partial)
	assert.Assert(t, !nodes[0].Partial)
	assert.Equal(t, osd.CountNodes(nodes, osd.GetPartialNode), 1)

	logging.Info("partial snapshot is still published")
	assert.Equal(t, reader.Latest().Len(), 3)
	assert.DeepEqual(t, reader.Latest().PartialIds(), []int64{2})

	count, ok := mem.Last("osd_keeper.osd.count")
	assert.Assert(t, ok)
	assert.Equal(t, count, uint64(3))
	partial, _ := mem.Last("osd_keeper.osd.partial_count")
	assert.Equal(t, partial, uint64(1))
}

func TestRefreshUnavailable(t *testing.T) {
	cluster := newTestCluster()
	reader := NewReader(cluster, WithCallTimeout(50*time.Millisecond))
	_, err := reader.Refresh(context.Background())
	assert.NilError(t, err)
	first := reader.Latest()

	logging.Info("unreachable cluster publishes nothing")
	cluster.SetUnreachable(true)
	nodes, err := reader.Refresh(context.Background())
	assert.Equal(t, status.CodeOf(err), status.Unavailable)
	assert.Assert(t, nodes == nil)
	assert.Assert(t, reader.Latest() == first)

	logging.Info("timeout is unavailable too")
	cluster.SetUnreachable(false)
	cluster.SetBehaviors(mgr.MethodListOsds, &mgr.Behaviors{Delay: time.Second})
	_, err = reader.Refresh(context.Background())
	assert.Equal(t, status.CodeOf(err), status.Unavailable)
	assert.Assert(t, reader.Latest() == first)
}

func TestPoller(t *testing.T) {
	cluster := newTestCluster()
	reader := NewReader(cluster)
	poller := NewPoller(reader, 20*time.Millisecond)
	assert.Equal(t, poller.State(), utils.StateInitializing)

	poller.Start()
	assert.Equal(t, poller.State(), utils.StateNormal)
	utils.WaitCondition(t, func(log bool) bool {
		count := cluster.Calls(mgr.MethodListOsds)
		if log {
			logging.Info("list called %d times", count)
		}
		return count >= 3
	}, 5*time.Second)
	assert.Assert(t, reader.Latest() != nil)

	poller.Stop()
	assert.Equal(t, poller.State(), utils.StateDropped)
	calls := cluster.Calls(mgr.MethodListOsds)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, cluster.Calls(mgr.MethodListOsds), calls)

	logging.Info("stop twice is fine")
	poller.Stop()
}
