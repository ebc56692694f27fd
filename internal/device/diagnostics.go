package device

import (
	"log/slog"

	"github.com/Mellanox/rdmamap"
)

// logSysfsCrossCheck compares the verbs-enumerated device set against
// rdmamap's independent sysfs walk (internal/metrics reads devices
// through internal/rdma.SysfsProvider instead). It warns on a device
// sysfs lists that verbs did not open, and logs the reverse case at
// Debug — a
// device libibverbs can't open but sysfs still lists usually means a
// driver/permission problem worth surfacing early, rather than
// silently excluding it.
func logSysfsCrossCheck(opened []*Device, logger *slog.Logger) {
	sysfsDevices := rdmamap.GetRdmaDeviceList()
	openedSet := make(map[string]bool, len(opened))
	for _, d := range opened {
		openedSet[d.Name] = true
	}
	sysfsSet := make(map[string]bool, len(sysfsDevices))
	for _, name := range sysfsDevices {
		sysfsSet[name] = true
		if !openedSet[name] {
			logger.Warn("device visible in sysfs but not opened via verbs", "device", name)
		}
	}
	for name := range openedSet {
		if !sysfsSet[name] {
			logger.Debug("device opened via verbs but absent from sysfs cross-check", "device", name)
		}
	}
}
