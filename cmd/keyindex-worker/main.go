// Command worker runs the key-index worker role: it owns a contiguous key
// range, serves and forwards client requests, and shifts keys with its
// right neighbor to stay balanced.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/kiloop/keyindex/internal/config"
	"github.com/kiloop/keyindex/internal/worker"
)

// cliFlags holds parsed command-line flag values.
type cliFlags struct {
	configPath string
	masterHost string
	portUDP    int
	portTCP    int
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.configPath, "config", "", "Path to config file (or KEYINDEX_CONFIG)")
	flag.StringVar(&f.masterHost, "master-host", "", "Override master host")
	flag.IntVar(&f.portUDP, "port-udp", 0, "Override worker UDP listen port")
	flag.IntVar(&f.portTCP, "port-tcp", 0, "Override worker TCP (neighbor link) listen port")
	flag.Parse()
	return f
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := parseFlags()

	cfg, err := config.LoadWorker(config.ResolveConfigPath(flags.configPath))
	if err != nil {
		return fmt.Errorf("worker: load config: %w", err)
	}

	if flags.masterHost != "" {
		cfg.MasterHost = flags.masterHost
	}
	if flags.portUDP != 0 {
		cfg.WPortUDP = flags.portUDP
	}
	if flags.portTCP != 0 {
		cfg.WPortTCP = flags.portTCP
	}

	return worker.Run(cfg)
}
