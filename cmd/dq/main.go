// Command dq runs queue workers and operates on queues, failed jobs and
// recovery snapshots.
package main

import (
	"os"

	"github.com/jdziat/durable-queue/internal/cli"
)

func main() {
	os.Exit(cli.Execute(cli.NewRoot()))
}
