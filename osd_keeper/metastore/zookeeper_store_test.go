package metastore

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/kuaishou/open_osd_keeper/osd_keeper/logging"

	"github.com/go-zookeeper/zk"
	"gotest.tools/assert"
)

// The test talks to a real zookeeper, set OSD_KEEPER_TEST_ZK to run it.
func connectTestZk(t *testing.T) *ZookeeperStore {
	hosts := os.Getenv("OSD_KEEPER_TEST_ZK")
	if hosts == "" {
		t.Skip("OSD_KEEPER_TEST_ZK not set")
	}
	acl := append(zk.WorldACL(zk.PermRead), zk.DigestACL(zk.PermAll, "keeper", "admin")...)
	store, err := NewZookeeperStore(
		strings.Split(hosts, ","),
		time.Second*10,
		WithACL(acl),
		WithAuth("digest", []byte("keeper:admin")),
	)
	assert.NilError(t, err)
	return store
}

func TestZookeeperWriteBatch(t *testing.T) {
	store := connectTestZk(t)
	defer store.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	root := "/test/osd_keeper/write_batch"
	assert.Assert(t, store.RecursiveDelete(ctx, root))
	assert.Assert(t, store.RecursiveCreate(ctx, root))

	logging.Info("create 2 nodes in a batch")
	node1 := &CreateOp{Path: root + "/node1", Data: []byte("node1")}
	node2 := &CreateOp{Path: root + "/node2", Data: []byte("node2")}
	assert.Assert(t, store.WriteBatch(ctx, node1, node2))

	data, exists, succ := store.Get(ctx, node2.Path)
	assert.Assert(t, succ && exists)
	assert.DeepEqual(t, data, node2.Data)

	logging.Info("batch fails as a whole when one create conflicts")
	node3 := &CreateOp{Path: root + "/node3", Data: []byte("node3")}
	assert.Equal(t, store.WriteBatch(ctx, node2, node3), false)
	_, exists, succ = store.Get(ctx, node3.Path)
	assert.Assert(t, succ)
	assert.Equal(t, exists, false)

	logging.Info("mixed batch, delete of a missing node is skipped")
	set2 := &SetOp{Path: node2.Path, Data: []byte("node2 new")}
	assert.Assert(t, store.WriteBatch(ctx, &DeleteOp{Path: node1.Path}, set2, node3))
	assert.Assert(t, store.WriteBatch(ctx, &DeleteOp{Path: node1.Path}, set2))

	subs, exists, succ := store.Children(ctx, root)
	assert.Assert(t, succ && exists)
	assert.Equal(t, len(subs), 2)
	assert.Assert(t, store.RecursiveDelete(ctx, root))
}
