// Package config loads the two options the service recognizes: the TCP
// port its RPC server listens on, and the path of the snapshot file used
// at startup (load) and shutdown (dump).
package config

import (
	flag "github.com/spf13/pflag"
)

// Config holds the service's runtime configuration.
type Config struct {
	// Port is the TCP port the RPC server listens on.
	Port int
	// DumpFile is the snapshot file path loaded at startup and written
	// at orderly shutdown.
	DumpFile string
}

// Default mirrors the original service's defaults (gflags port=8666,
// dump_file=./dump).
func Default() Config {
	return Config{
		Port:     8666,
		DumpFile: "./dump",
	}
}

// Parse builds a flag set over Default(), parses args (typically
// os.Args[1:]), and returns the resulting configuration.
func Parse(args []string) (Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("kvserver", flag.ContinueOnError)
	fs.IntVar(&cfg.Port, "port", cfg.Port, "TCP port the kv service listens on")
	fs.StringVar(&cfg.DumpFile, "dump-file", cfg.DumpFile, "path of the snapshot file")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
