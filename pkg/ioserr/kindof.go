package ioserr

import (
	"context"
	"errors"
	"net"
)

// KindOf reports the Kind of err: the Kind of the first error in its
// chain that implements Kinder, falling back to KindCancelled for a
// cancelled/expired context and KindSocket for a net.Error, and
// KindUnknown otherwise.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var kinder Kinder
	if errors.As(err, &kinder) {
		return kinder.Kind()
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindSocket
	}

	return KindUnknown
}

// Is reports whether err's Kind (per KindOf) is kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
