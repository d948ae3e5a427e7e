// Command habmeth runs a single built-in method standalone and waits
// for it to finish, for ad-hoc testing of a method without scheduling a
// job for it.
//
// Grounded on original_source/src/cmd/habmeth.c's main(): look the
// method up, run it against stdout:/stderr:, wait, and exit with its
// return code. The probe method family is out of scope here as it is
// in the source ("excludes probe method, see habprobe(1)").
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"clockwork/internal/callback"
	"clockwork/internal/logging"
	"clockwork/internal/meth"
	"clockwork/internal/route"
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, usage())
		return 1
	}
	methodName := args[1]
	command := strings.Join(args[2:], " ")

	logger := logging.New("info")

	routes := route.NewRegistry()
	route.RegisterStandard(routes)

	bus := callback.New()
	ex := meth.NewExecutor(routes, bus, logger, nil)

	if !ex.Has(methodName) {
		fmt.Fprintf(os.Stderr, "%s\nmethod %s not recognised\n", usage(), methodName)
		return 1
	}

	key := "habmeth-" + methodName
	rc, err := ex.Execute(key, methodName, command, "stdout:", "stderr:", 0)
	if err != nil {
		logging.Fatal(logger, "method failed", "method", methodName, "err", err)
		return 1
	}

	// TypeFork methods run asynchronously; wait for the child to finish
	// so our own exit doesn't race the relay draining its output.
	for ex.IsRunning(key) {
		time.Sleep(20 * time.Millisecond)
	}

	if rc != 0 {
		logger.Error("method failed", "method", methodName, "rc", rc)
	}
	return rc
}

func usage() string {
	return "Run a habitat method standalone, where methods are one of:\n" +
		"      exec        run a shell command, relaying stdout/stderr\n" +
		"      none        do nothing\n" +
		"      probe.uptime  report process uptime and goroutine count\n" +
		"excludes probe method, see habprobe(1)"
}
