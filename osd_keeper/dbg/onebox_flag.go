package dbg

import "flag"

var (
	flagOnebox = flag.Bool("onebox", false, "run against an in-process fake cluster instead of the mgr api")
)

func RunOnebox() bool {
	return *flagOnebox
}
