package task

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"cliptrim/config"
	"cliptrim/logging"
)

// resourceGuard decides whether the host has room for another encode.
// A zero threshold disables that check.
type resourceGuard struct {
	idleCPU  float64
	freeMem  uint64
	freeDisk uint64
	diskPath string
	log      zerolog.Logger
}

func newResourceGuard(cfg *config.Config) *resourceGuard {
	g := &resourceGuard{
		idleCPU:  cfg.ThrottleCPU,
		diskPath: cfg.Workspace,
		log:      logging.WithComponent("resources"),
	}
	if cfg.ThrottleFreeMem > 0 {
		g.freeMem = uint64(cfg.ThrottleFreeMem)
	}
	if cfg.ThrottleFreeDisk > 0 {
		g.freeDisk = uint64(cfg.ThrottleFreeDisk)
	}
	if g.diskPath == "" {
		g.diskPath = "."
	}
	return g
}

// Check verifies that the system has enough free resources to start a new job.
// Metrics that cannot be read are logged and ignored.
func (g *resourceGuard) Check() error {
	if g.idleCPU > 0 {
		p, err := cpu.Percent(time.Second, false)
		if err != nil {
			g.log.Warn().Err(err).Msg("could not get CPU usage")
		} else if len(p) > 0 && p[0] > (100.0-g.idleCPU) {
			return fmt.Errorf("not enough idle CPU. Current usage: %.2f%%, Idle threshold: %.2f%%", p[0], g.idleCPU)
		}
	}

	if g.freeMem > 0 {
		vm, err := mem.VirtualMemory()
		if err != nil {
			g.log.Warn().Err(err).Msg("could not get memory usage")
		} else if vm.Available < g.freeMem {
			return fmt.Errorf("not enough free memory. Available: %d, Required: %d", vm.Available, g.freeMem)
		}
	}

	if g.freeDisk > 0 {
		d, err := disk.Usage(g.diskPath)
		if err != nil {
			g.log.Warn().Err(err).Str(logging.FieldPath, g.diskPath).Msg("could not get disk usage")
		} else if d.Free < g.freeDisk {
			return fmt.Errorf("not enough free disk space. Available: %d, Required: %d", d.Free, g.freeDisk)
		}
	}
	return nil
}
