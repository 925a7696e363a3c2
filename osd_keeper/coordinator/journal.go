package coordinator

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/kuaishou/open_osd_keeper/osd_keeper/logging"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/metastore"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/status"
)

const (
	kBulkRunsNode   = "bulk_runs"
	kJournalTimeout = 5 * time.Second
)

// runJournal keeps the newest results under <prefix>/bulk_runs. Run ids
// are time ordered, so sorting node names sorts runs by start time.
type runJournal struct {
	store     metastore.MetaStore
	root      string
	retention int

	mu        sync.Mutex
	rootReady bool
}

func newRunJournal(store metastore.MetaStore, prefix string, retention int) *runJournal {
	return &runJournal{
		store:     store,
		root:      metastore.JoinPath(prefix, kBulkRunsNode),
		retention: retention,
	}
}

// ensureRoot is called with j.mu held.
func (j *runJournal) ensureRoot(ctx context.Context) bool {
	if !j.rootReady {
		j.rootReady = j.store.RecursiveCreate(ctx, j.root)
	}
	return j.rootReady
}

func (j *runJournal) record(ctx context.Context, result *BulkResult) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), kJournalTimeout)
	defer cancel()
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.ensureRoot(ctx) {
		logging.Warning("[coordinator] can't create journal root %s, skip run %s", j.root, result.RunId)
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		logging.Warning("[coordinator] marshal run %s failed: %s", result.RunId, err.Error())
		return
	}
	children, _, succ := j.store.Children(ctx, j.root)
	if !succ {
		logging.Warning("[coordinator] list journal %s failed, skip run %s", j.root, result.RunId)
		return
	}
	sort.Strings(children)

	ops := []metastore.WriteOp{
		&metastore.CreateOp{Path: j.root + "/" + result.RunId, Data: data},
	}
	if expired := len(children) + 1 - j.retention; expired > 0 {
		for _, child := range children[:expired] {
			ops = append(ops, &metastore.DeleteOp{Path: j.root + "/" + child})
		}
	}
	if !j.store.WriteBatch(ctx, ops...) {
		logging.Warning("[coordinator] journal run %s failed", result.RunId)
		return
	}
	logging.Verbose(1, "[coordinator] journaled run %s, %d old runs expired", result.RunId, len(ops)-1)
}

// recent returns at most limit runs, newest first.
func (j *runJournal) recent(ctx context.Context, limit int) ([]*BulkResult, *status.ErrorStatus) {
	children, exists, succ := j.store.Children(ctx, j.root)
	if !succ {
		return nil, status.ErrorMsg(status.Unavailable, "list %s failed", j.root)
	}
	output := []*BulkResult{}
	if !exists {
		return output, nil
	}
	sort.Sort(sort.Reverse(sort.StringSlice(children)))
	for _, child := range children {
		if limit > 0 && len(output) >= limit {
			break
		}
		data, exists, succ := j.store.Get(ctx, j.root+"/"+child)
		if !succ {
			return nil, status.ErrorMsg(status.Unavailable, "read run %s failed", child)
		}
		if !exists {
			continue
		}
		result := &BulkResult{}
		if err := json.Unmarshal(data, result); err != nil {
			logging.Warning("[coordinator] skip corrupted run %s: %s", child, err.Error())
			continue
		}
		output = append(output, result)
	}
	return output, nil
}
