package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	root := buildRoot(command{stdout: os.Stdout, stderr: os.Stderr})
	err := root.ExecuteContext(ctx)
	stop()
	os.Exit(exitCode(os.Stderr, err))
}

// exitError carries the process exit code out of a cobra RunE. A nil err
// exits silently, as for a child that failed on its own.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// exitCode reports err on w when it has a message and maps it to an exit code.
func exitCode(w io.Writer, err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			_, _ = fmt.Fprintln(w, "telenotify:", ee.err)
		}
		return ee.code
	}
	_, _ = fmt.Fprintln(w, "telenotify:", err)
	return 1
}

func buildRoot(c command) *cobra.Command {
	flags := &RootFlags{}
	root := createRootCommand(c, flags)
	root.SetOut(c.stdout)
	root.SetErr(c.stderr)
	return root
}
