package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	dvcmd "dvtrack/internal/cli/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := dvcmd.Execute(ctx)
	stop()
	if err == nil {
		os.Exit(dvcmd.ExitOK)
	}

	code := dvcmd.ExitCLIError
	var ee *dvcmd.ExitError
	if errors.As(err, &ee) {
		code = ee.Code
		err = ee.Err
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "dvtrack:", err)
	}
	os.Exit(code)
}
