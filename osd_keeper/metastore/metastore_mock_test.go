package metastore

import (
	"context"
	"testing"

	"github.com/kuaishou/open_osd_keeper/osd_keeper/logging"

	"gotest.tools/assert"
)

func TestMockWriteBatch(t *testing.T) {
	ctx := context.Background()
	store := NewMockMetaStore()
	var _ MetaStore = store

	root := "/test/mock/write_batch"
	assert.Assert(t, store.RecursiveCreate(ctx, root))

	logging.Info("create needs the parent")
	assert.Equal(t, store.Create(ctx, root+"/a/b", []byte("b")), false)
	assert.Assert(t, store.Create(ctx, root+"/a", []byte("a")))

	logging.Info("batch with a conflicting create changes nothing")
	ok := store.WriteBatch(ctx,
		&CreateOp{Path: root + "/c", Data: []byte("c")},
		&CreateOp{Path: root + "/a", Data: []byte("a2")},
	)
	assert.Equal(t, ok, false)
	_, exists, succ := store.Get(ctx, root+"/c")
	assert.Assert(t, succ)
	assert.Equal(t, exists, false)

	logging.Info("create, set and delete in one batch")
	ok = store.WriteBatch(ctx,
		&CreateOp{Path: root + "/c", Data: []byte("c")},
		&SetOp{Path: root + "/c", Data: []byte("c2")},
		&DeleteOp{Path: root + "/a"},
		&DeleteOp{Path: root + "/missing"},
	)
	assert.Assert(t, ok)
	data, exists, _ := store.Get(ctx, root+"/c")
	assert.Assert(t, exists)
	assert.DeepEqual(t, data, []byte("c2"))

	subs, exists, succ := store.Children(ctx, root)
	assert.Assert(t, exists && succ)
	assert.DeepEqual(t, subs, []string{"c"})
	assert.Equal(t, store.BatchCount(), 2)
}

func TestMockDeleteAndUnavailable(t *testing.T) {
	ctx := context.Background()
	store := NewMockMetaStore()
	assert.Assert(t, store.RecursiveCreate(ctx, "/x/y/z"))

	logging.Info("non empty node can't be deleted")
	assert.Equal(t, store.Delete(ctx, "/x/y"), false)
	assert.Assert(t, store.Delete(ctx, "/x/y/z"))
	assert.Assert(t, store.Delete(ctx, "/x/y"))
	assert.Assert(t, store.Delete(ctx, "/x/not_exist"))

	assert.Assert(t, store.RecursiveCreate(ctx, "/x/y/z"))
	assert.Assert(t, store.RecursiveDelete(ctx, "/x"))
	_, exists, _ := store.Get(ctx, "/x/y/z")
	assert.Equal(t, exists, false)

	logging.Info("unavailable store fails everything")
	store.SetUnavailable(true)
	_, _, succ := store.Get(ctx, "/")
	assert.Equal(t, succ, false)
	assert.Equal(t, store.Create(ctx, "/x", nil), false)
	store.SetUnavailable(false)
	assert.Assert(t, store.Create(ctx, "/x", nil))
}

func TestJoinPath(t *testing.T) {
	assert.Equal(t, JoinPath("/a/", "b", "/c"), "/a/b/c")
	assert.Equal(t, JoinPath(""), "/")
	assert.Equal(t, parentOf("/a/b"), "/a")
	assert.Equal(t, parentOf("/a"), "/")
}
