// Package shutdown runs cleanup hooks when the process is asked to stop.
//
// A Handler waits for SIGINT, SIGTERM or an explicit Trigger, then runs the
// registered hooks in reverse registration order under a shared timeout.
// The save command uses it to drain in-flight snapshot work before exiting.
//
// Usage:
//
//	h := shutdown.NewHandler(30 * time.Second)
//	h.OnShutdown(func(ctx context.Context) error { return node.Close() })
//	err := h.WaitContext(ctx)
package shutdown
