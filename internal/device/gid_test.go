package device

import (
	"path/filepath"
	"testing"

	"github.com/rdma-go/r2dma/internal/ibv"
)

func TestQueryGidType(t *testing.T) {
	t.Parallel()

	root := filepath.Join("testdata", "sysfs", "basic")

	tests := []struct {
		name  string
		index int
		want  GidType
	}{
		{"roce_v1", 0, GidTypeRoCEv1},
		{"roce_v2", 1, GidTypeRoCEv2},
		{"missing", 2, GidTypeOther},
		{"empty", 3, GidTypeOther},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, _ := queryGidType(root, "mlx5_0", 1, tt.index)
			if got != tt.want {
				t.Fatalf("queryGidType() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsLinkLocal(t *testing.T) {
	t.Parallel()

	linkLocal := ibv.Gid{0xfe, 0x80}
	global := ibv.Gid{0x20, 0x01}

	if !isLinkLocal(linkLocal) {
		t.Fatalf("expected fe80::/10 to be link-local")
	}
	if isLinkLocal(global) {
		t.Fatalf("expected 2001:: not to be link-local")
	}
}
