package snapshot

import (
	"context"
	"time"

	"github.com/kuaishou/open_osd_keeper/osd_keeper/logging"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/status"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/utils"
)

// Poller refreshes a Reader periodically so that the api always has a
// recent snapshot to filter selections against.
type Poller struct {
	state    utils.DroppableStateHolder
	quit     chan bool
	done     chan bool
	interval time.Duration
	reader   *Reader
}

func NewPoller(reader *Reader, interval time.Duration) *Poller {
	return &Poller{
		quit:     make(chan bool),
		done:     make(chan bool),
		interval: interval,
		reader:   reader,
	}
}

func (p *Poller) Start() {
	if _, ok := p.state.Cas(utils.StateInitializing, utils.StateNormal); !ok {
		logging.Warning("snapshot poller already started")
		return
	}
	go p.pollLoop()
}

func (p *Poller) Stop() {
	if _, ok := p.state.Cas(utils.StateNormal, utils.StateDropping); !ok {
		return
	}
	logging.Info("start stop snapshot poller")
	p.quit <- true
	<-p.done
	p.state.Set(utils.StateDropped)
	logging.Info("finish stop snapshot poller")
}

func (p *Poller) State() utils.DroppableState {
	return p.state.Get()
}

func (p *Poller) poll() {
	_, err := p.reader.Refresh(context.Background())
	switch status.CodeOf(err) {
	case status.Ok, status.PartialData:
	default:
		logging.Warning("poll snapshot failed, retry in %v: %v", p.interval, err)
	}
}

func (p *Poller) pollLoop() {
	defer close(p.done)
	logging.Info("start snapshot poll loop, interval %v", p.interval)
	p.poll()
	tick := time.NewTicker(p.interval)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			p.poll()
		case <-p.quit:
			return
		}
	}
}
