package dbg

import (
	"errors"
	"sync/atomic"

	"github.com/kuaishou/open_osd_keeper/osd_keeper/logging"
)

var (
	safeMode               = int32(0)
	ErrSkipRunAsInSafeMode = errors.New("skip run as in safe mode")
)

// RunInSafeMode is checked before any irreversible osd action.
func RunInSafeMode() bool {
	return atomic.LoadInt32(&safeMode) != 0
}

func SetSafeMode(val bool) {
	logging.Info("set safe mode to %v", val)
	if val {
		atomic.StoreInt32(&safeMode, 1)
	} else {
		atomic.StoreInt32(&safeMode, 0)
	}
}
