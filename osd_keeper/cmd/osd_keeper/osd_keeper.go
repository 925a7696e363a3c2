package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/kuaishou/open_osd_keeper/osd_keeper/logging"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/server"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/third_party"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/version"
)

var (
	flagPerfLogLevel = flag.Int("perf_log_level", -1, "write perf points to the log at this verbose level, -1 disables")
)

func main() {
	flag.Parse()
	version.MayPrintVersionAndExit()
	logging.ApplyVerboseFlag()
	if *flagPerfLogLevel >= 0 {
		third_party.SetPerfLogger(&third_party.VerbosePerfLogger{Level: int32(*flagPerfLogLevel)})
	}

	cfg, err := server.LoadConfig()
	if err != nil {
		logging.Fatal("load config failed: %s", err.Error())
	}
	sv := server.CreateServer(server.WithConfig(cfg))

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		logging.Info("got signal %v, stop server", sig)
		sv.Stop()
	}()
	sv.Start()
	logging.Flush()
}
