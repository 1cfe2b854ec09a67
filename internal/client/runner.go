package client

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/kiloop/keyindex/internal/config"
	"github.com/kiloop/keyindex/internal/dolist"
	"github.com/kiloop/keyindex/internal/helpers"
	"github.com/kiloop/keyindex/internal/logging"
	"github.com/kiloop/keyindex/internal/netbuf"
	"github.com/kiloop/keyindex/internal/transport"
	"github.com/kiloop/keyindex/internal/wire"
	"github.com/kiloop/keyindex/internal/wireproto"
)

func selfIP(masterHost string, masterPort int) (string, error) {
	conn, err := net.Dial("udp", net.JoinHostPort(masterHost, fmt.Sprint(masterPort)))
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

func resolveUDP(host string, port int) (*net.UDPAddr, error) {
	if ip := net.ParseIP(host); ip != nil {
		return &net.UDPAddr{IP: ip, Port: port}, nil
	}
	return net.ResolveUDPAddr("udp", net.JoinHostPort(host, fmt.Sprint(port)))
}

// Run builds a client's transport server and request trackers, starts
// them, and returns without blocking. It returns the constructed Client and do-list so
// callers (e.g. a REPL or batch-submit CLI) can issue SubmitInsert/
// SubmitLookup calls while it runs in the background — this is the one
// role whose "business logic" is driven by an operator or script, not
// purely by inbound messages, so Run hands back live handles instead of
// only blocking.
func Run(ctx context.Context, cfg *config.ClientConfig) (*Client, *dolist.List, func() error, error) {
	logger := logging.Configure(logging.Config{
		Level:            cfg.Logging.Level,
		Structured:       cfg.Logging.Structured,
		StructuredFormat: cfg.Logging.StructuredFormat,
		IncludePID:       cfg.Logging.IncludePID,
		ExtraFields:      mergeRole(cfg.Logging.ExtraFields, "client", uuid.NewString()),
	})

	ip, err := selfIP(cfg.MasterHost, cfg.MasterPortUDP)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("client: resolve self address: %w", err)
	}
	self := wireproto.NetAddress{IP: ip, UDPPort: helpers.ClampIntToUint16(cfg.ClientPortUDP)}

	defaultWorker, err := resolveUDP(cfg.DefWorkerHost, cfg.DefWorkerPortUDP)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("client: resolve default worker address: %w", err)
	}

	srv := transport.NewServer(logger, "0.0.0.0", helpers.ClampIntToUint16(cfg.ClientPortUDP))
	c := New(srv, logger, defaultWorker, self, cfg.MaxInserts, cfg.MaxLookups)

	srv.Handle(wire.KeyInsertComplete, func(_ context.Context, _ netbuf.Envelope, payload string, hasPayload bool, _ *net.UDPAddr) (wire.Kind, string, bool) {
		c.HandleKeyInsertComplete(payload, hasPayload)
		return 0, "", false
	})
	srv.Handle(wire.KeyInfo, func(_ context.Context, _ netbuf.Envelope, payload string, hasPayload bool, _ *net.UDPAddr) (wire.Kind, string, bool) {
		c.HandleKeyInfo(payload, hasPayload)
		return 0, "", false
	})

	items := dolist.New(cfg.ThreadPoolSize)

	udpAddr := fmt.Sprintf(":%d", cfg.ClientPortUDP)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx, udpAddr) }()
	go items.Run(ctx, cfg.LoopSleepTime)

	logger.Info("client listening", "udp", udpAddr, "default_worker", defaultWorker.String())

	stop := func() error { return srv.Stop(5 * time.Second) }

	go func() {
		if err := <-errCh; err != nil && ctx.Err() == nil {
			logger.Error("client transport failed", "err", err)
		}
	}()

	return c, items, stop, nil
}

// RunBlocking wires Run's lifecycle and blocks until an interrupt/term
// signal, per the other two roles' process-entrypoint shape. Useful for
// cmd/keyindex-client's default (non-scripted) mode.
func RunBlocking(cfg *config.ClientConfig) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	_, _, stop, err := Run(ctx, cfg)
	if err != nil {
		return err
	}
	<-ctx.Done()
	return stop()
}

func mergeRole(extra map[string]string, role, instanceID string) map[string]string {
	out := make(map[string]string, len(extra)+2)
	for k, v := range extra {
		out[k] = v
	}
	out["role"] = role
	out["client_instance"] = instanceID
	return out
}
