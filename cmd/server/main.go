package main

import (
	"context"
	"os"

	"github.com/rpattn/matters/internal/logging"
)

var version = "dev"

func main() {
	if err := run(context.Background(), os.Args); err != nil {
		logging.Default().Error("failed to run", logging.ErrAttr(err))
		os.Exit(1)
	}
}
