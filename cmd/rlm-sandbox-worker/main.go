// Command rlm-sandbox-worker is the standalone subprocess spawned by the
// sandbox host adapter to execute untrusted code in a goja VM, one process
// per sandboxed call (spec.md §4.2). It speaks the length-prefixed frame
// protocol in pkg/sandbox/protocol over stdin/stdout; stderr carries
// structured logs only.
package main

import (
	"log/slog"
	"os"

	"github.com/mepuka/recursive-llm-sub001/pkg/sandbox/worker"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	loop := worker.NewLoop(os.Stdin, os.Stdout, log)
	if err := loop.Run(); err != nil {
		log.Error("rlm-sandbox-worker: exiting on error", "error", err)
		os.Exit(1)
	}
}
