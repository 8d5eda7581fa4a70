package engine

import (
	"errors"

	"github.com/scaupdb/scaup/kv"
)

// isNotFound reports whether err is (or wraps) kv.ErrNotFound. The
// engine never lets a raw kv.ErrNotFound escape past this package —
// spec.md §7: "NotFound from the backend is never surfaced raw; it is
// converted to the appropriate domain kind or absorbed."
func isNotFound(err error) bool {
	return errors.Is(err, kv.ErrNotFound)
}
