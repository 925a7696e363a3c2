package metastore

import (
	"context"
	"errors"
	"flag"
	"sync/atomic"
	"time"

	"github.com/kuaishou/open_osd_keeper/osd_keeper/logging"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/utils"

	"github.com/go-zookeeper/zk"
)

var (
	flagMaxZkQps = flag.Int64("max_zk_qps", 2000, "max requests per second sent to zookeeper")
)

var zkRetryErrors = []error{
	zk.ErrUnknown,
	zk.ErrSessionMoved,
	zk.ErrConnectionClosed,
	zk.ErrNoServer,
}

func errorIn(err error, candidates []error) bool {
	for _, c := range candidates {
		if errors.Is(err, c) {
			return true
		}
	}
	return false
}

type zkLogger struct{}

func (z zkLogger) Printf(format string, args ...interface{}) {
	logging.Verbose(1, "[zk] "+format, args...)
}

type ZookeeperStore struct {
	conn        *zk.Conn
	events      <-chan zk.Event
	acl         []zk.ACL
	scheme      string
	auth        []byte
	retryGap    time.Duration
	rateLimiter *utils.TokenBucket
	closed      atomic.Bool
}

type zkOpts func(z *ZookeeperStore)

func WithACL(acl []zk.ACL) zkOpts {
	return func(z *ZookeeperStore) {
		z.acl = acl
	}
}

func WithAuth(scheme string, auth []byte) zkOpts {
	return func(z *ZookeeperStore) {
		z.scheme = scheme
		z.auth = auth
	}
}

func WithRetryGap(gap time.Duration) zkOpts {
	return func(z *ZookeeperStore) {
		z.retryGap = gap
	}
}

// NewZookeeperStore connects in the background. Requests issued before the
// session is established wait for it, bounded by their context.
func NewZookeeperStore(
	hosts []string,
	sessionTimeout time.Duration,
	opts ...zkOpts,
) (*ZookeeperStore, error) {
	z := &ZookeeperStore{
		acl:         zk.WorldACL(zk.PermAll),
		retryGap:    time.Second,
		rateLimiter: utils.NewTokenBucket(*flagMaxZkQps, 100),
	}
	for _, opt := range opts {
		opt(z)
	}
	conn, events, err := zk.Connect(hosts, sessionTimeout, zk.WithLogger(zkLogger{}))
	if err != nil {
		return nil, err
	}
	z.conn = conn
	z.events = events
	go z.watchSession()

	if z.scheme != "" && len(z.auth) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), sessionTimeout)
		defer cancel()
		if !z.access(ctx, "add_auth", z.scheme, func(conn *zk.Conn) error {
			return conn.AddAuth(z.scheme, z.auth)
		}) {
			z.Close()
			return nil, errors.New("add zk auth failed")
		}
	}
	return z, nil
}

func (z *ZookeeperStore) watchSession() {
	for event := range z.events {
		if event.Type != zk.EventSession {
			logging.Verbose(1, "zk event %s on %s", event.Type.String(), event.Path)
			continue
		}
		switch event.State {
		case zk.StateExpired:
			logging.Error("zk session expired, writes will fail until restart")
		case zk.StateDisconnected:
			if z.closed.Load() {
				return
			}
			logging.Warning("zk disconnected, waiting for reconnection")
		default:
			logging.Info("zk session state: %s", event.State.String())
		}
	}
}

// access runs f until it succeeds, fails with a non-retryable error or ctx
// is done. Errors listed in tolerated count as success.
func (z *ZookeeperStore) access(
	ctx context.Context,
	name, path string,
	f func(conn *zk.Conn) error,
	tolerated ...error,
) bool {
	if err := z.rateLimiter.AcquireTokenCtx(ctx); err != nil {
		logging.Warning("zk %s %s: %s", name, path, err.Error())
		return false
	}
	for try := 1; ; try++ {
		state := z.conn.State()
		switch state {
		case zk.StateHasSession, zk.StateConnected:
			err := f(z.conn)
			if err == nil || errorIn(err, tolerated) {
				logging.Verbose(1, "zk %s %s done after %d try, result: %v", name, path, try, err)
				return true
			}
			if !errorIn(err, zkRetryErrors) {
				logging.Warning("zk %s %s failed: %s", name, path, err.Error())
				return false
			}
			logging.Warning("zk %s %s got %s at try %d, retry later", name, path, err.Error(), try)
		case zk.StateExpired:
			logging.Error("zk %s %s skipped as session expired", name, path)
			return false
		default:
			logging.Warning("zk %s %s waits for state %s, try %d", name, path, state.String(), try)
		}
		if z.closed.Load() {
			return false
		}

		timer := time.NewTimer(z.retryGap)
		select {
		case <-ctx.Done():
			timer.Stop()
			logging.Info("zk %s %s gives up: %s", name, path, ctx.Err().Error())
			return false
		case <-timer.C:
		}
	}
}

func (z *ZookeeperStore) Close() {
	if z.closed.CompareAndSwap(false, true) {
		z.conn.Close()
	}
}

func (z *ZookeeperStore) Get(ctx context.Context, path string) ([]byte, bool, bool) {
	var data []byte
	exists := true
	succ := z.access(ctx, "get", path, func(conn *zk.Conn) error {
		var err error
		data, _, err = conn.Get(path)
		exists = !errors.Is(err, zk.ErrNoNode)
		return err
	}, zk.ErrNoNode)
	return data, exists && succ, succ
}

func (z *ZookeeperStore) Children(ctx context.Context, path string) ([]string, bool, bool) {
	var children []string
	exists := true
	succ := z.access(ctx, "children", path, func(conn *zk.Conn) error {
		var err error
		children, _, err = conn.Children(path)
		exists = !errors.Is(err, zk.ErrNoNode)
		return err
	}, zk.ErrNoNode)
	return children, exists && succ, succ
}

func (z *ZookeeperStore) Create(ctx context.Context, path string, data []byte) bool {
	return z.access(ctx, "create", path, func(conn *zk.Conn) error {
		_, err := conn.Create(path, data, 0, z.acl)
		return err
	}, zk.ErrNodeExists)
}

func (z *ZookeeperStore) Set(ctx context.Context, path string, data []byte) bool {
	return z.access(ctx, "set", path, func(conn *zk.Conn) error {
		_, err := conn.Set(path, data, -1)
		return err
	})
}

func (z *ZookeeperStore) Delete(ctx context.Context, path string) bool {
	return z.access(ctx, "delete", path, func(conn *zk.Conn) error {
		return conn.Delete(path, -1)
	}, zk.ErrNoNode)
}

func (z *ZookeeperStore) batchRequests(conn *zk.Conn, ops []WriteOp) ([]interface{}, error) {
	requests := []interface{}{}
	for _, op := range ops {
		switch op := op.(type) {
		case *CreateOp:
			requests = append(requests, &zk.CreateRequest{Path: op.Path, Data: op.Data, Acl: z.acl})
		case *SetOp:
			requests = append(requests, &zk.SetDataRequest{Path: op.Path, Data: op.Data, Version: -1})
		case *DeleteOp:
			exists, _, err := conn.Exists(op.Path)
			if err != nil {
				return nil, err
			}
			if exists {
				requests = append(requests, &zk.DeleteRequest{Path: op.Path, Version: -1})
			}
		default:
			logging.Fatal("unknown write op %s", op.Name())
		}
	}
	return requests, nil
}

func (z *ZookeeperStore) WriteBatch(ctx context.Context, ops ...WriteOp) bool {
	if len(ops) == 0 {
		return false
	}
	return z.access(ctx, "write_batch", ops[0].OpPath(), func(conn *zk.Conn) error {
		requests, err := z.batchRequests(conn, ops)
		if err != nil {
			return err
		}
		if len(requests) == 0 {
			return nil
		}
		responses, err := conn.Multi(requests...)
		if err != nil {
			for i, resp := range responses {
				if resp.Error != nil {
					logging.Info("zk batch request %d failed: %v", i, resp.Error)
				}
			}
		}
		return err
	})
}

func (z *ZookeeperStore) RecursiveCreate(ctx context.Context, path string) bool {
	prefix := ""
	for _, token := range splitPath(path) {
		prefix = prefix + "/" + token
		if !z.Create(ctx, prefix, []byte{}) {
			return false
		}
	}
	return true
}

func (z *ZookeeperStore) RecursiveDelete(ctx context.Context, path string) bool {
	children, exists, succ := z.Children(ctx, path)
	if !succ {
		return false
	}
	if !exists {
		return true
	}
	for _, child := range children {
		if !z.RecursiveDelete(ctx, path+"/"+child) {
			return false
		}
	}
	return z.Delete(ctx, path)
}
