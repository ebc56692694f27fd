//go:build linux && cgo

package ibv

import (
	"log/slog"
	"runtime"
)

// armLeakFinalizer registers a finalizer that warns at Warn if obj is
// garbage collected with *closed still false. Close() remains the
// actual ownership contract for releasing the underlying verbs
// resource; this is only a development-time backstop for a forgotten
// Close, not a replacement for it.
func armLeakFinalizer(obj any, kind string, closed *bool) {
	runtime.SetFinalizer(obj, func(any) {
		if !*closed {
			slog.Default().Warn("ibv wrapper garbage collected without Close", "kind", kind)
		}
	})
}

// disarmLeakFinalizer clears the finalizer once Close has run, so a
// timely Close never pays for a GC-triggered callback later.
func disarmLeakFinalizer(obj any) {
	runtime.SetFinalizer(obj, nil)
}
