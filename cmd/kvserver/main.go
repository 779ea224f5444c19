// Command kvserver runs the ordered key-value service: it loads any
// existing snapshot, starts the single writer goroutine, and serves Get/
// Put/Remove over TCP until asked to quit, at which point it dumps a
// fresh snapshot before exiting.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/mattkeenan/kvservice/internal/config"
	"github.com/mattkeenan/kvservice/internal/rpcservice"
	"github.com/mattkeenan/kvservice/internal/store"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	cfg, err := config.Parse(args)
	if err != nil {
		return fmt.Errorf("kvserver: %w", err)
	}

	kv := store.New()
	if err := kv.Start(cfg.DumpFile); err != nil {
		return fmt.Errorf("kvserver: fail to start kv service: %w", err)
	}

	svc := rpcservice.NewService(kv, log.With(logger, "component", "rpcservice"))
	server := rpcservice.NewServer(svc, log.With(logger, "component", "rpcservice"))

	addr := fmt.Sprintf(":%d", cfg.Port)
	if err := server.Listen(addr); err != nil {
		_ = kv.Stop()
		return fmt.Errorf("kvserver: fail to start rpc service: %w", err)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		level.Info(logger).Log("msg", "received signal, shutting down", "signal", sig.String())
	case err := <-serveErr:
		if err != nil {
			level.Error(logger).Log("msg", "rpc server stopped unexpectedly", "err", err)
		}
	}

	if err := server.Close(); err != nil {
		level.Warn(logger).Log("msg", "error closing listener", "err", err)
	}
	<-serveErr

	if err := kv.Stop(); err != nil {
		// A snapshot dump failure at shutdown is logged, not fatal: the
		// process is already stopping.
		level.Error(logger).Log("msg", "snapshot dump failed", "err", err)
	}
	return nil
}
