//go:build debug

// Command vokerlocal runs a standalone copy of voker's local mock
// control plane, for exercising a handler binary without deploying it
// to Lambda. Must be built with `-tags debug`; voker.NewLocalServer
// only exists in that build (see localserver.go/localserver_release.go).
//
// Grounded on the go-flags CLI shape in estuary-flow's flow-ingester
// command (a Config struct plus a single Execute-style entry point).
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	flags "github.com/jessevdk/go-flags"
	"github.com/lambdarun/voker"
)

type config struct {
	Addr string `short:"a" long:"addr" description:"address to bind the mock control plane and /invoke endpoint on" default:"127.0.0.1:9001"`
}

func main() {
	var cfg config
	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	srv := voker.NewLocalServer(logger)

	logger.Info("voker local mock control plane listening", "addr", cfg.Addr)
	fmt.Printf("POST handler invocations to http://%s/invoke\n", cfg.Addr)
	fmt.Printf("point AWS_LAMBDA_RUNTIME_API at %s for your handler binary\n", cfg.Addr)

	if err := http.ListenAndServe(cfg.Addr, srv.Router()); err != nil {
		logger.Error("local server exited", "error", err)
		os.Exit(1)
	}
}
