//go:build !windows

package cli

import (
	"os"
	"syscall"

	"github.com/jdziat/durable-queue/pkg/worker"
)

var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

var controlSignals = map[os.Signal]func(*worker.Worker){
	syscall.SIGUSR2: (*worker.Worker).Pause,
	syscall.SIGCONT: (*worker.Worker).Resume,
}
