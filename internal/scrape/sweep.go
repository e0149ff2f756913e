package scrape

import (
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// SweepProcesses kills lingering browser/driver processes belonging to one
// session, identified by the session's unique user-data directory appearing in
// the process command line. Matching on the directory rather than the binary
// name keeps unrelated Chrome instances on the host alive. Returns the number
// of processes terminated.
func SweepProcesses(userDataDir string, logger *zap.Logger) int {
	if userDataDir == "" {
		return 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	procs, err := process.Processes()
	if err != nil {
		logger.Warn("process sweep unavailable", zap.Error(err))
		return 0
	}

	killed := 0
	for _, p := range procs {
		cmdline, err := p.Cmdline()
		if err != nil || !strings.Contains(cmdline, userDataDir) {
			continue
		}
		if err := p.Terminate(); err != nil {
			_ = p.Kill()
		} else {
			// Give the process a moment to exit before escalating.
			time.Sleep(100 * time.Millisecond)
			if running, _ := p.IsRunning(); running {
				_ = p.Kill()
			}
		}
		killed++
		logger.Debug("swept stray process",
			zap.Int32("pid", p.Pid),
			zap.String("user_data_dir", userDataDir),
		)
	}
	return killed
}
