// Package device enumerates verbs devices into long-lived, reference
// counted handles shared by every socket a manager creates.
package device

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rdma-go/r2dma/internal/ibv"
)

// GidType tags a GID entry with its transport.
type GidType int

const (
	GidTypeIB GidType = iota
	GidTypeRoCEv1
	GidTypeRoCEv2
	GidTypeOther
)

func (t GidType) String() string {
	switch t {
	case GidTypeIB:
		return "IB"
	case GidTypeRoCEv1:
		return "RoCEv1"
	case GidTypeRoCEv2:
		return "RoCEv2"
	default:
		return "Other"
	}
}

// ParseGidType maps the config-file/flag spellings (ib, roce_v1,
// roce_v2) to a GidType, for turning a GidTypeFilter
// string list into device.Config.
func ParseGidType(s string) (GidType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ib":
		return GidTypeIB, nil
	case "roce_v1", "rocev1":
		return GidTypeRoCEv1, nil
	case "roce_v2", "rocev2":
		return GidTypeRoCEv2, nil
	default:
		return GidTypeOther, fmt.Errorf("device: unknown gid type %q", s)
	}
}

// GidEntry pairs a queried GID with its index and type.
type GidEntry struct {
	Index int
	Gid   ibv.Gid
	Type  GidType
}

// queryGidType reads {ibdev_path}/ports/{port}/gid_attrs/types/{index},
// falling back to GidTypeOther on any unrecognized payload or read
// failure. The second result is the raw payload (or a description of
// the read error); GidEntry has no field for it, so the registry
// discards it.
func queryGidType(sysfsRoot, deviceName string, portNum uint8, index int) (GidType, string) {
	path := filepath.Join(sysfsRoot, "class", "infiniband", deviceName,
		"ports", strconv.Itoa(int(portNum)), "gid_attrs", "types", strconv.Itoa(index))
	raw, err := os.ReadFile(path)
	if err != nil {
		return GidTypeOther, fmt.Sprintf("unreadable: %v", err)
	}
	value := strings.TrimSpace(string(raw))
	switch value {
	case "IB/RoCE v1":
		return GidTypeRoCEv1, value
	case "RoCE v2":
		return GidTypeRoCEv2, value
	default:
		return GidTypeOther, value
	}
}

// isLinkLocal reports whether gid, interpreted as an IPv6 address, is
// unicast link-local (fe80::/10) — used by roce_v2_skip_link_local_addr.
func isLinkLocal(g ibv.Gid) bool {
	return g[0] == 0xfe && (g[1]&0xc0) == 0x80
}
