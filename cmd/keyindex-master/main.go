// Command master runs the key-index master role: it owns the authoritative
// worker list, admits new workers, and drives ring rebalancing.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/kiloop/keyindex/internal/config"
	"github.com/kiloop/keyindex/internal/master"
)

// cliFlags holds parsed command-line flag values.
type cliFlags struct {
	configPath string
	portUDP    int
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.configPath, "config", "", "Path to config file (or KEYINDEX_CONFIG)")
	flag.IntVar(&f.portUDP, "port-udp", 0, "Override master UDP listen port")
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

	cfg, err := config.LoadMaster(config.ResolveConfigPath(flags.configPath))
	if err != nil {
		return fmt.Errorf("master: load config: %w", err)
	}

	if flags.portUDP != 0 {
		cfg.PortUDP = flags.portUDP
	}

	return master.Run(cfg)
}
