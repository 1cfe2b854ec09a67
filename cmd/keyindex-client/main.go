// Command client submits insert and lookup requests against the key index
// and prints the result. With neither -insert nor -lookup it stays
// resident, listening for completions until interrupted (useful as a
// long-lived process embedding a Client for scripted submission).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiloop/keyindex/internal/client"
	"github.com/kiloop/keyindex/internal/config"
	"github.com/kiloop/keyindex/internal/dolist"
	"github.com/kiloop/keyindex/internal/keyspace"
)

// cliFlags holds parsed command-line flag values.
type cliFlags struct {
	configPath string
	masterHost string
	defWorker  string

	insertKey string
	chunk     int
	subchunk  int

	lookupKey string

	timeout time.Duration
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.configPath, "config", "", "Path to config file (or KEYINDEX_CONFIG)")
	flag.StringVar(&f.masterHost, "master-host", "", "Override master host")
	flag.StringVar(&f.defWorker, "def-worker-host", "", "Override default worker host")
	flag.StringVar(&f.insertKey, "insert", "", "Key to insert")
	flag.IntVar(&f.chunk, "chunk", 0, "Chunk id for -insert")
	flag.IntVar(&f.subchunk, "subchunk", 0, "Subchunk id for -insert")
	flag.StringVar(&f.lookupKey, "lookup", "", "Key to look up")
	flag.DurationVar(&f.timeout, "timeout", 10*time.Second, "Time to wait for a reply")
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

	cfg, err := config.LoadClient(config.ResolveConfigPath(flags.configPath))
	if err != nil {
		return fmt.Errorf("client: load config: %w", err)
	}
	if flags.masterHost != "" {
		cfg.MasterHost = flags.masterHost
	}
	if flags.defWorker != "" {
		cfg.DefWorkerHost = flags.defWorker
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c, items, stop, err := client.Run(ctx, cfg)
	if err != nil {
		return fmt.Errorf("client: start: %w", err)
	}
	defer stop()

	switch {
	case flags.insertKey != "":
		return doInsert(ctx, c, items, flags)
	case flags.lookupKey != "":
		return doLookup(ctx, c, items, flags)
	default:
		<-ctx.Done()
		return nil
	}
}

func doInsert(ctx context.Context, c *client.Client, items *dolist.List, flags cliFlags) error {
	ctx, cancel := context.WithTimeout(ctx, flags.timeout)
	defer cancel()

	key := keyspace.FromString(flags.insertKey)
	handle, err := c.SubmitInsert(ctx, items, key, int32(flags.chunk), int32(flags.subchunk))
	if err != nil {
		return fmt.Errorf("client: insert %q: %w", flags.insertKey, err)
	}

	select {
	case <-handle.Done:
	case <-ctx.Done():
		return fmt.Errorf("client: insert %q: %w", flags.insertKey, ctx.Err())
	}

	if !handle.Success() {
		return fmt.Errorf("client: insert %q: rejected (diverging value already stored)", flags.insertKey)
	}
	fmt.Printf("insert %q -> chunk=%d subchunk=%d ok\n", flags.insertKey, flags.chunk, flags.subchunk)
	return nil
}

func doLookup(ctx context.Context, c *client.Client, items *dolist.List, flags cliFlags) error {
	ctx, cancel := context.WithTimeout(ctx, flags.timeout)
	defer cancel()

	key := keyspace.FromString(flags.lookupKey)
	handle, err := c.SubmitLookup(ctx, items, key)
	if err != nil {
		return fmt.Errorf("client: lookup %q: %w", flags.lookupKey, err)
	}

	select {
	case <-handle.Done:
	case <-ctx.Done():
		return fmt.Errorf("client: lookup %q: %w", flags.lookupKey, ctx.Err())
	}

	chunk, subchunk, found := handle.Result()
	if !found {
		fmt.Printf("lookup %q -> not found\n", flags.lookupKey)
		return nil
	}
	fmt.Printf("lookup %q -> chunk=%d subchunk=%d\n", flags.lookupKey, chunk, subchunk)
	return nil
}
