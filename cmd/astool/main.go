// Command astool is the CLI shell over the core: sync pulls a region's
// manifest and missing packages, login mints a brand-new account, status
// reports local state without touching the network, and gc removes stale
// master-version directories.
package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/lanternkey/astool/pkg/astctx"
	"github.com/lanternkey/astool/pkg/astlog"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	env := astctx.LoadEnvConfig()
	logger := astlog.New(astlog.Config{Level: os.Getenv("ASTOOL_LOG_LEVEL")}).With().Str("run_id", uuid.NewString()).Logger()

	actx, err := astctx.New(env, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "astool:", err)
		os.Exit(1)
	}

	var runErr error
	switch os.Args[1] {
	case "sync":
		runErr = runSync(actx, logger, os.Args[2:])
	case "login":
		runErr = runLogin(actx, logger, os.Args[2:])
	case "status":
		runErr = runStatus(actx, logger, os.Args[2:])
	case "gc":
		runErr = runGC(actx, logger, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}

	if runErr != nil {
		fmt.Fprintln(os.Stderr, "astool:", runErr)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: astool <sync|login|status|gc> [flags]")
}
