package meth

import (
	"fmt"
	"runtime"
	"time"

	"clockwork/internal/route"
)

// registerBuiltins installs the compiled-in methods every clockwork
// agent carries without a job-table row naming a dynamically loaded
// object (dynamic loading itself is out of scope for this rewrite).
//
// "exec" is the everyday fork-type method the job-table's `method`
// field almost always names (original_source/src/iiab/meth.c's
// meth_lookup("exec") call sites in its own TEST harness). "shutdown"
// and "restart" are the none-type control methods meth_init()'s
// shutdown callback exists to serve. "probe.uptime" stands in for a
// thin probe library as a method-registry consumer: a minimal
// in-process sampler so a job table can exercise a source-type method
// without shelling out.
func registerBuiltins(e *Executor) {
	e.Registry.Add(&Method{
		Name: "exec",
		Info: "run command as a child process, relaying stdout/stderr",
		Type: TypeFork,
	})

	e.Registry.Add(&Method{
		Name: "none",
		Info: "no-op method, useful for scheduling bookkeeping-only work",
		Type: TypeNone,
	})

	e.Registry.Add(&Method{
		Name: "shutdown",
		Info: "request agent shutdown",
		Type: TypeNone,
		Action: func(command string, result, errRoute route.Route) int {
			if e.shutdown != nil {
				e.shutdown()
			}
			return 0
		},
	})

	e.Registry.Add(&Method{
		Name: "restart",
		Info: "request agent restart",
		Type: TypeNone,
		Action: func(command string, result, errRoute route.Route) int {
			if e.shutdown != nil {
				e.shutdown()
			}
			return 0
		},
	})

	e.Registry.Add(&Method{
		Name: "probe.uptime",
		Info: "sample process uptime and goroutine count",
		Type: TypeSource,
		Action: func(command string, result, errRoute route.Route) int {
			_, err := fmt.Fprintf(result, "uptime=%s goroutines=%d\n",
				time.Since(processStart).Truncate(time.Second), runtime.NumGoroutine())
			if err != nil {
				errRoute.Write([]byte(err.Error() + "\n"))
				return 1
			}
			return 0
		},
	})
}

var processStart = time.Now()
