package device

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/rdma-go/r2dma/internal/ibv"
	"github.com/rdma-go/r2dma/internal/r2dmaerr"
)

// Config selects which devices and GIDs the registry exposes.
type Config struct {
	// DeviceFilter restricts enumeration to these device names. Empty
	// means all devices visible to the provider.
	DeviceFilter []string
	// GidTypeFilter restricts exposed GIDs to these types. Empty means
	// all types.
	GidTypeFilter []GidType
	// RoceV2SkipLinkLocalAddr drops RoCEv2 GIDs whose IPv6
	// representation is unicast link-local.
	RoceV2SkipLinkLocalAddr bool
	// SysfsRoot overrides the root used for GID-type detection, mostly
	// for tests; defaults to "/sys".
	SysfsRoot string
}

// Port holds the verbs-queried attributes and GID table of one device
// port.
type Port struct {
	PortNum int
	Attrs   ibv.PortAttrs
	Gids    []GidEntry
}

// Device owns a shared verbs context, one protection domain, device
// attributes, and its filtered ports.
type Device struct {
	Name  string
	Ctx   *ibv.Context
	PD    *ibv.ProtectionDomain
	Attrs ibv.DeviceAttrs
	Ports []Port
}

// Registry enumerates every matching device at startup and keeps them
// open for the lifetime of the manager.
type Registry struct {
	devices []*Device
	list    *ibv.DeviceList
	logger  *slog.Logger
}

// Open enumerates the provider's device list, opens each matching
// device into a context + PD + ports, and retains the list open for
// the registry's lifetime (Close releases it).
func Open(cfg Config, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sysfsRoot := cfg.SysfsRoot
	if sysfsRoot == "" {
		sysfsRoot = "/sys"
	}

	list, err := ibv.GetDeviceList()
	if err != nil {
		return nil, r2dmaerr.Wrap(r2dmaerr.KindDeviceEnumeration, "device.Open", err)
	}

	allowed := toSet(cfg.DeviceFilter)
	gidTypeAllowed := toGidTypeSet(cfg.GidTypeFilter)

	r := &Registry{list: list, logger: logger}
	for i := 0; i < list.Len(); i++ {
		name := list.Name(i)
		if len(allowed) > 0 && !allowed[name] {
			continue
		}
		dev, err := openDevice(list, i, name, sysfsRoot, gidTypeAllowed, cfg.RoceV2SkipLinkLocalAddr)
		if err != nil {
			logger.Warn("skipping device", "device", name, "err", err)
			continue
		}
		r.devices = append(r.devices, dev)
	}

	if len(r.devices) == 0 {
		list.Free()
		return nil, r2dmaerr.New(r2dmaerr.KindDeviceNotFound, "device.Open: no matching devices")
	}

	sort.Slice(r.devices, func(i, j int) bool { return r.devices[i].Name < r.devices[j].Name })
	logSysfsCrossCheck(r.devices, logger)
	return r, nil
}

func openDevice(list *ibv.DeviceList, index int, name, sysfsRoot string, gidTypeAllowed map[GidType]bool, skipLinkLocal bool) (*Device, error) {
	ctx, err := list.Open(index)
	if err != nil {
		return nil, r2dmaerr.Wrap(r2dmaerr.KindOpenDevice, "ibv_open_device", err)
	}

	attrs, err := ctx.QueryDevice()
	if err != nil {
		ctx.Close()
		return nil, err
	}

	pd, err := ctx.AllocPD()
	if err != nil {
		ctx.Close()
		return nil, err
	}

	ports := make([]Port, 0, attrs.PhysPortCount)
	for portNum := 1; portNum <= attrs.PhysPortCount; portNum++ {
		portAttrs, err := ctx.QueryPort(uint8(portNum))
		if err != nil {
			continue
		}
		gids := make([]GidEntry, 0, portAttrs.GidTblLen)
		for idx := 0; idx < portAttrs.GidTblLen; idx++ {
			gid, err := ctx.QueryGid(uint8(portNum), idx)
			if err != nil {
				continue
			}
			if gid == (ibv.Gid{}) {
				continue
			}
			gidType, _ := queryGidType(sysfsRoot, name, uint8(portNum), idx)
			if len(gidTypeAllowed) > 0 && !gidTypeAllowed[gidType] {
				continue
			}
			if skipLinkLocal && gidType == GidTypeRoCEv2 && isLinkLocal(gid) {
				continue
			}
			gids = append(gids, GidEntry{Index: idx, Gid: gid, Type: gidType})
		}
		ports = append(ports, Port{PortNum: portNum, Attrs: portAttrs, Gids: gids})
	}

	return &Device{Name: name, Ctx: ctx, PD: pd, Attrs: attrs, Ports: ports}, nil
}

// Devices returns the opened, filtered device list in stable name order.
func (r *Registry) Devices() []*Device { return r.devices }

// Device looks up an opened device by name.
func (r *Registry) Device(name string) (*Device, error) {
	for _, d := range r.devices {
		if d.Name == name {
			return d, nil
		}
	}
	return nil, fmt.Errorf("device %q: %w", name, r2dmaerr.DeviceNotFound)
}

// Close tears every device down (PD then context) and frees the
// underlying device list. Destroy failures are logged only, never
// propagated: they're non-recoverable once the caller has asked to
// shut down.
func (r *Registry) Close() {
	for _, d := range r.devices {
		if err := d.PD.Close(); err != nil {
			r.logger.Warn("ibv_dealloc_pd failed", "device", d.Name, "err", err)
		}
		if err := d.Ctx.Close(); err != nil {
			r.logger.Warn("ibv_close_device failed", "device", d.Name, "err", err)
		}
	}
	if r.list != nil {
		r.list.Free()
	}
}

func toSet(names []string) map[string]bool {
	if len(names) == 0 {
		return nil
	}
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

func toGidTypeSet(types []GidType) map[GidType]bool {
	if len(types) == 0 {
		return nil
	}
	m := make(map[GidType]bool, len(types))
	for _, t := range types {
		m[t] = true
	}
	return m
}
