// Package cli implements the dq command line: the worker process and the
// operator commands over queues, failed jobs and recovery snapshots.
//
// Applications embed it to run workers with their own handlers:
//
//	root := cli.NewRoot(cli.WithSetup(func(q *queue.Queue) error {
//	    q.Register("email.send", sendEmail)
//	    return nil
//	}))
//	os.Exit(cli.Execute(root))
package cli
