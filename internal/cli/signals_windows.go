//go:build windows

package cli

import (
	"os"

	"github.com/jdziat/durable-queue/pkg/worker"
)

var shutdownSignals = []os.Signal{os.Interrupt}

// Windows has no pause or resume signals.
var controlSignals = map[os.Signal]func(*worker.Worker){}
