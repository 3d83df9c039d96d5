package backend

import (
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/teranos/yume/errors"
)

// HostMemory probes host RAM as the render device. The simulated
// worker has no accelerator, so system memory stands in for VRAM; a
// real accelerator backend would supply its own Probe.
func HostMemory() (string, uint64, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return "", 0, errors.Wrap(err, "failed to get memory stats")
	}
	return "host", v.Total, nil
}
