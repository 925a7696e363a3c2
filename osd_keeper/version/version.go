package version

import (
	"flag"
	"fmt"
	"os"
	"runtime"
)

var (
	// assigned by -ldflags "-X .../version.GitCommitId=<sha>" at build time
	GitCommitId string
	flagVersion = flag.Bool("version", false, "print version")
)

func String() string {
	commit := GitCommitId
	if commit == "" {
		commit = "unknown"
	}
	return fmt.Sprintf("git commit id: %s, go: %s", commit, runtime.Version())
}

func MayPrintVersionAndExit() {
	if *flagVersion {
		fmt.Println(String())
		os.Exit(0)
	}
}
