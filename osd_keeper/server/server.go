package server

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/kuaishou/open_osd_keeper/osd_keeper/coordinator"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/dbg"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/executor"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/logging"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/metastore"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/mgr"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/safety"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/snapshot"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/version"

	"github.com/gorilla/mux"
)

const (
	kMockMgrPrefix = "/mock_mgr"
	kZkTimeout     = 10 * time.Second
)

type Server struct {
	myself string
	cfg    *Config

	cp          mgr.ControlPlane
	store       metastore.MetaStore
	reader      *snapshot.Reader
	poller      *snapshot.Poller
	coordinator *coordinator.Coordinator
	router      *mux.Router
	listener    net.Listener
	httpServer  *http.Server
	initialized atomic.Bool
}

type serverOpts func(sv *Server)

func WithConfig(cfg *Config) serverOpts {
	return func(sv *Server) {
		sv.cfg = cfg
	}
}

func WithControlPlane(cp mgr.ControlPlane) serverOpts {
	return func(sv *Server) {
		sv.cp = cp
	}
}

func WithMetaStore(store metastore.MetaStore) serverOpts {
	return func(sv *Server) {
		sv.store = store
	}
}

func CreateServer(opts ...serverOpts) *Server {
	s := &Server{cfg: ConfigFromFlags()}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.cfg.Validate(); err != nil {
		logging.Fatal("invalid config: %s", err.Error())
	}
	if hostName, err := os.Hostname(); err != nil {
		logging.Fatal("get host name failed: %v", err.Error())
	} else {
		s.myself = fmt.Sprintf("%s:%d", hostName, s.cfg.HttpPort)
	}
	s.router = mux.NewRouter().StrictSlash(true)
	s.registerHandlers()
	return s
}

func (s *Server) Start() {
	logging.Info("%s: start server with %s", s.myself, version.String())
	var err error
	s.listener, err = net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.HttpPort))
	if err != nil {
		logging.Fatal("%s: listen to http port %d failed: %s", s.myself, s.cfg.HttpPort, err.Error())
	}
	if dbg.RunOnebox() && s.cp == nil {
		s.startOnebox()
	}
	s.prepare()
	s.poller.Start()
	s.startHttpServer()
}

func (s *Server) Stop() {
	if s.httpServer != nil {
		s.httpServer.Close()
	}
	if s.poller != nil {
		s.poller.Stop()
	}
	if s.store != nil {
		s.store.Close()
	}
}

// startOnebox serves a fake cluster from this process and talks to it
// through the http control plane, so the whole request path is exercised.
func (s *Server) startOnebox() {
	mock := dbg.NewMockMgr(dbg.NewOneboxCluster())
	s.router.PathPrefix(kMockMgrPrefix).Handler(http.StripPrefix(kMockMgrPrefix, mock))
	addr := s.listener.Addr().(*net.TCPAddr)
	s.cp = mgr.NewHttpControlPlane(fmt.Sprintf("http://127.0.0.1:%d%s", addr.Port, kMockMgrPrefix))
	if s.store == nil && len(s.cfg.ZkHosts) == 0 {
		s.store = metastore.NewMockMetaStore()
	}
	logging.Info("%s: onebox mode, mgr served at %s", s.myself, kMockMgrPrefix)
}

func (s *Server) prepare() {
	s.prepareMetaStore()
	s.prepareComponents()
}

func (s *Server) prepareMetaStore() {
	if s.store != nil {
		return
	}
	if len(s.cfg.ZkHosts) == 0 {
		logging.Warning("%s: no zk hosts, bulk runs won't be journaled", s.myself)
		return
	}
	store, err := metastore.NewZookeeperStore(s.cfg.ZkHosts, kZkTimeout)
	if err != nil {
		logging.Fatal("%s: connect to zk %v failed: %s", s.myself, s.cfg.ZkHosts, err.Error())
	}
	s.store = store
}

func (s *Server) prepareComponents() {
	if s.cp == nil {
		s.cp = mgr.NewHttpControlPlane(s.cfg.MgrUrl, mgr.WithToken(s.cfg.MgrToken))
	}
	s.reader = snapshot.NewReader(s.cp, snapshot.WithCallTimeout(s.cfg.CallTimeout))
	s.poller = snapshot.NewPoller(s.reader, s.cfg.SnapshotRefreshInterval)
	evaluator := safety.NewEvaluator(
		s.cp,
		s.reader,
		safety.WithCallTimeout(s.cfg.CallTimeout),
		safety.WithRemovalRequiresUp(s.cfg.RemovalRequiresUp),
	)
	exec := executor.NewExecutor(s.cp, executor.WithCallTimeout(s.cfg.CallTimeout))
	s.coordinator = coordinator.NewCoordinator(
		s.cp, s.reader, evaluator, exec, s.coordinatorOpts()...,
	)
	s.initialized.Store(true)
}

func (s *Server) coordinatorOpts() []coordinator.Option {
	opts := []coordinator.Option{
		coordinator.WithMaxInflightCalls(s.cfg.MaxInflightCalls),
		coordinator.WithCallTimeout(s.cfg.CallTimeout),
	}
	if s.store != nil {
		opts = append(opts, coordinator.WithJournal(s.store, s.cfg.ZkPrefix, s.cfg.JournalRetention))
	}
	return opts
}

func (s *Server) startHttpServer() {
	s.httpServer = &http.Server{Handler: s.router}
	logging.Info("%s: serving http on %s", s.myself, s.listener.Addr())
	if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.Fatal("%s: http server exit: %s", s.myself, err.Error())
	}
}
