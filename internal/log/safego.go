package log

import (
	"fmt"
	"runtime/debug"
)

// SafeGo runs fn in a new goroutine with panic recovery.
// A recovered panic is logged with its stack trace under the given name
// instead of crashing the process. Background loops (monitor ticker, event
// forwarding) must not be able to take the registry down.
func SafeGo(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				Error(CatRegistry, "panic recovered in goroutine",
					"name", name,
					"panic", fmt.Sprintf("%v", r),
					"stack", string(debug.Stack()))
			}
		}()
		fn()
	}()
}
