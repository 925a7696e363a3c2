package mgr

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/kuaishou/open_osd_keeper/osd_keeper/osd"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/status"
)

const (
	MethodListOsds   = "ListOsds"
	MethodSafetyInfo = "SafetyInfo"
	MethodMark       = "Mark"
	MethodReweight   = "Reweight"
	MethodDestroy    = "Destroy"
	MethodPurge      = "Purge"
	MethodScrub      = "Scrub"
	MethodGetFlags   = "GetFlags"
	MethodSetFlags   = "SetFlags"
	MethodGetConfig  = "GetConfig"
	MethodSetConfig  = "SetConfig"
	MethodPing       = "Ping"
)

// Behaviors changes how the fake answers a method. Fail makes every call
// return the code, FailOnce only the next call.
type Behaviors struct {
	Delay       time.Duration
	RandomDelay time.Duration
	Fail        status.Code
	FailOnce    status.Code
	FailIds     map[int64]status.Code
}

type fakeOsd struct {
	id         int64
	host       string
	in         bool
	up         bool
	destroyed  bool
	lost       bool
	weight     float64
	stats      *osd.Stats
	history    *RawHistory
	noMetadata bool
	scrubs     int
	deepScrubs int
}

type fakePg struct {
	id      string
	minSize int
	acting  []int64
}

// FakeCluster is an in-memory ControlPlane. It backs unit tests and the
// onebox mode of the keeper.
type FakeCluster struct {
	mu          sync.Mutex
	osds        map[int64]*fakeOsd
	pgs         map[string]*fakePg
	flags       map[string]bool
	config      map[string]string
	behaviors   map[string]*Behaviors
	unreachable bool
	calls       map[string]int
	rnd         *rand.Rand
}

func NewFakeCluster() *FakeCluster {
	return &FakeCluster{
		osds:      make(map[int64]*fakeOsd),
		pgs:       make(map[string]*fakePg),
		flags:     make(map[string]bool),
		config:    defaultConfig(),
		behaviors: make(map[string]*Behaviors),
		calls:     make(map[string]int),
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (f *FakeCluster) AddOsd(id int64, host string, in, up bool) *FakeCluster {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.osds[id] = &fakeOsd{
		id:     id,
		host:   host,
		in:     in,
		up:     up,
		weight: 1.0,
		stats: &osd.Stats{
			StatBytes:     1 << 30,
			StatBytesUsed: 1 << 28,
		},
		history: &RawHistory{
			OpOutBytes: []osd.Sample{{Timestamp: 1, Value: 0}},
			OpInBytes:  []osd.Sample{{Timestamp: 1, Value: 0}},
		},
	}
	return f
}

func (f *FakeCluster) AddPg(pgid string, minSize int, acting ...int64) *FakeCluster {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pgs[pgid] = &fakePg{id: pgid, minSize: minSize, acting: append([]int64(nil), acting...)}
	for _, id := range acting {
		if o, ok := f.osds[id]; ok && o.stats != nil {
			o.stats.NumPg++
		}
	}
	return f
}

func (f *FakeCluster) RemovePgMember(pgid string, id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pg, ok := f.pgs[pgid]; ok {
		pg.acting = removeId(pg.acting, id)
	}
}

func (f *FakeCluster) DropStats(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.osds[id]; ok {
		o.stats = nil
		o.history = nil
	}
}

func (f *FakeCluster) SetMetadataUnavailable(id int64, unavailable bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.osds[id]; ok {
		o.noMetadata = unavailable
	}
}

func (f *FakeCluster) SetUnreachable(flag bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unreachable = flag
}

func (f *FakeCluster) SetBehaviors(method string, b *Behaviors) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b == nil {
		delete(f.behaviors, method)
		return
	}
	f.behaviors[method] = b
}

func (f *FakeCluster) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *FakeCluster) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = make(map[string]int)
}

// Osd returns a copy of the current record, nil if it doesn't exist.
func (f *FakeCluster) Osd(id int64) *RawOsd {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.osds[id]
	if !ok {
		return nil
	}
	return o.toRaw()
}

func (f *FakeCluster) IsLost(id int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.osds[id]
	return ok && o.lost
}

func (f *FakeCluster) ScrubCount(id int64, deep bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.osds[id]
	if !ok {
		return 0
	}
	if deep {
		return o.deepScrubs
	}
	return o.scrubs
}

func removeId(ids []int64, id int64) []int64 {
	output := ids[:0]
	for _, i := range ids {
		if i != id {
			output = append(output, i)
		}
	}
	return output
}

func (o *fakeOsd) toRaw() *RawOsd {
	raw := &RawOsd{
		Id:     o.id,
		Weight: o.weight,
		Host:   RawHost{Name: o.host},
		State:  []string{"exists"},
	}
	if o.in {
		raw.In = 1
		raw.State = append(raw.State, "in")
	}
	if o.up {
		raw.Up = 1
		raw.State = append(raw.State, "up")
	}
	if o.destroyed {
		raw.State = append(raw.State, "destroyed")
	}
	if o.stats != nil {
		stats := *o.stats
		raw.Stats = &stats
	}
	if o.history != nil {
		raw.StatsHistory = &RawHistory{
			OpOutBytes: append([]osd.Sample(nil), o.history.OpOutBytes...),
			OpInBytes:  append([]osd.Sample(nil), o.history.OpInBytes...),
		}
	}
	return raw
}

func (o *fakeOsd) live() bool {
	return o.up && !o.destroyed
}

// enter runs outside of f.mu, it only sleeps and decides whether to fail.
func (f *FakeCluster) enter(ctx context.Context, method string, id int64) error {
	f.mu.Lock()
	f.calls[method]++
	unreachable := f.unreachable
	b := f.behaviors[method]
	var delay time.Duration
	code := status.Ok
	if b != nil {
		delay = b.Delay
		if b.RandomDelay > 0 {
			delay += time.Duration(f.rnd.Int63n(int64(b.RandomDelay)))
		}
		if b.FailOnce != status.Ok {
			code = b.FailOnce
			b.FailOnce = status.Ok
		} else if b.Fail != status.Ok {
			code = b.Fail
		} else if c, ok := b.FailIds[id]; ok {
			code = c
		}
	}
	f.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return status.FromError(ctx.Err())
		case <-timer.C:
		}
	}
	if unreachable {
		return status.ErrorMsg(status.Unavailable, "fake cluster: %s: connection refused", method)
	}
	if code != status.Ok {
		return status.ErrorMsg(code, "fake cluster: %s on osd.%d injected %s", method, id, code.String())
	}
	return nil
}

func (f *FakeCluster) mustGet(id int64) (*fakeOsd, error) {
	o, ok := f.osds[id]
	if !ok {
		return nil, status.ErrorMsg(status.NotFound, "osd.%d does not exist", id)
	}
	return o, nil
}

func (f *FakeCluster) ListOsds(ctx context.Context) ([]*RawOsd, error) {
	if err := f.enter(ctx, MethodListOsds, -1); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	output := make([]*RawOsd, 0, len(f.osds))
	for _, o := range f.osds {
		output = append(output, o.toRaw())
	}
	sort.Slice(output, func(i, j int) bool { return output[i].Id < output[j].Id })
	return output, nil
}

func (f *FakeCluster) SafetyInfo(ctx context.Context, ids []int64) (*SafetyPayload, error) {
	if err := f.enter(ctx, MethodSafetyInfo, -1); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	pgIds := make([]string, 0, len(f.pgs))
	for pgid := range f.pgs {
		pgIds = append(pgIds, pgid)
	}
	sort.Strings(pgIds)

	output := &SafetyPayload{}
	for _, id := range ids {
		o, ok := f.osds[id]
		if !ok {
			continue
		}
		info := OsdSafetyInfo{Id: id, MetadataAvailable: !o.noMetadata}
		if o.noMetadata {
			output.Osds = append(output.Osds, info)
			continue
		}
		for _, pgid := range pgIds {
			pg := f.pgs[pgid]
			hosted := false
			for _, member := range pg.acting {
				if member == id {
					hosted = true
					break
				}
			}
			if !hosted {
				continue
			}
			health := PgHealth{
				PgId:    pg.id,
				Acting:  append([]int64(nil), pg.acting...),
				Live:    []int64{},
				MinSize: pg.minSize,
			}
			for _, member := range pg.acting {
				if m, ok := f.osds[member]; ok && m.live() {
					health.Live = append(health.Live, member)
				}
			}
			info.Pgs = append(info.Pgs, health)
		}
		output.Osds = append(output.Osds, info)
	}
	return output, nil
}

func (f *FakeCluster) Mark(ctx context.Context, id int64, action string) error {
	if err := f.enter(ctx, MethodMark, id); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	o, err := f.mustGet(id)
	if err != nil {
		return err
	}
	switch action {
	case ActionIn:
		o.in = true
	case ActionOut:
		o.in = false
	case ActionDown:
		o.up = false
	case ActionLost:
		o.lost = true
	default:
		return status.ErrorMsg(status.InvalidParameter, "unknown mark action %q", action)
	}
	return nil
}

func (f *FakeCluster) Reweight(ctx context.Context, id int64, weight float64) error {
	if err := f.enter(ctx, MethodReweight, id); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	o, err := f.mustGet(id)
	if err != nil {
		return err
	}
	if weight < 0 || weight > 1 {
		return status.ErrorMsg(status.InvalidParameter, "weight %v out of [0, 1]", weight)
	}
	o.weight = weight
	return nil
}

func (f *FakeCluster) Destroy(ctx context.Context, id int64) error {
	if err := f.enter(ctx, MethodDestroy, id); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	o, err := f.mustGet(id)
	if err != nil {
		return err
	}
	o.destroyed = true
	o.up = false
	o.in = false
	return nil
}

func (f *FakeCluster) Purge(ctx context.Context, id int64) error {
	if err := f.enter(ctx, MethodPurge, id); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.mustGet(id); err != nil {
		return err
	}
	delete(f.osds, id)
	for _, pg := range f.pgs {
		pg.acting = removeId(pg.acting, id)
	}
	return nil
}

func (f *FakeCluster) Scrub(ctx context.Context, id int64, deep bool) error {
	if err := f.enter(ctx, MethodScrub, id); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	o, err := f.mustGet(id)
	if err != nil {
		return err
	}
	if deep {
		o.deepScrubs++
	} else {
		o.scrubs++
	}
	return nil
}

func (f *FakeCluster) GetFlags(ctx context.Context) ([]string, error) {
	if err := f.enter(ctx, MethodGetFlags, -1); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	output := []string{}
	for flag := range f.flags {
		output = append(output, flag)
	}
	sort.Strings(output)
	return output, nil
}

func (f *FakeCluster) SetFlags(ctx context.Context, flags []string) error {
	if err := f.enter(ctx, MethodSetFlags, -1); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flags = make(map[string]bool)
	for _, flag := range flags {
		f.flags[flag] = true
	}
	return nil
}

func defaultConfig() map[string]string {
	output := osd.DefaultScrubConfig()
	for k, v := range osd.RecoveryPriorityDefault.Values() {
		output[k] = v
	}
	return output
}

func (f *FakeCluster) GetConfig(ctx context.Context, names []string) (map[string]string, error) {
	if err := f.enter(ctx, MethodGetConfig, -1); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	output := map[string]string{}
	for _, name := range names {
		if value, ok := f.config[name]; ok {
			output[name] = value
		}
	}
	return output, nil
}

func (f *FakeCluster) SetConfig(ctx context.Context, values map[string]string) error {
	if err := f.enter(ctx, MethodSetConfig, -1); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := values[""]; ok {
		return status.ErrorMsg(status.InvalidParameter, "empty option name")
	}
	for name, value := range values {
		f.config[name] = value
	}
	return nil
}

func (f *FakeCluster) Ping(ctx context.Context) error {
	return f.enter(ctx, MethodPing, -1)
}
