package api

import (
	"errors"
	"runtime/debug"

	"serve-chroot/protocol"
)

var errInternal = errors.New("internal error")

// goSafe runs fn on its own goroutine. A panic is logged with its stack and
// reported to the client instead of taking the process down.
func (h *handler) goSafe(c *client, name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.log.Error().
					Str("worker", name).
					Interface("panic", r).
					Str("stack", string(debug.Stack())).
					Msg("panic recovered in worker")
				c.send(protocol.Error(errInternal))
			}
		}()
		fn()
	}()
}
