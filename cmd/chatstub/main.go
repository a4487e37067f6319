// chatstub runs the stub chat backend as a standalone server, mainly for
// exercising chatprobe against scripted failure modes without a real backend.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/codefionn/marktkanal/internal/chatstub"
	"github.com/codefionn/marktkanal/internal/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		flagPort     = flag.Int("port", 8936, "listen port")
		flagToken    = flag.String("token", "", "required bearer token; empty accepts any client")
		flagLogLevel = flag.String("log-level", "info", "log level (debug, info, warn, error, none)")
		flagLogPath  = flag.String("log-path", "", "log file; empty disables logging")
	)
	flag.Parse()

	if err := logger.Init(logger.ParseLevel(*flagLogLevel), *flagLogPath); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Global().Close()

	addr := chatstub.Addr(*flagPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           chatstub.NewServer(*flagToken),
		ReadHeaderTimeout: 10 * time.Second,
	}

	fmt.Printf("chatstub listening on %s\n", addr)
	logger.Info("chatstub listening on %s", addr)
	return srv.ListenAndServe()
}
