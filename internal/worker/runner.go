package worker

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiloop/keyindex/internal/adminapi"
	"github.com/kiloop/keyindex/internal/config"
	"github.com/kiloop/keyindex/internal/dolist"
	"github.com/kiloop/keyindex/internal/helpers"
	"github.com/kiloop/keyindex/internal/keystore"
	"github.com/kiloop/keyindex/internal/logging"
	"github.com/kiloop/keyindex/internal/neighbor"
	"github.com/kiloop/keyindex/internal/netbuf"
	"github.com/kiloop/keyindex/internal/router"
	"github.com/kiloop/keyindex/internal/transport"
	"github.com/kiloop/keyindex/internal/wire"
	"github.com/kiloop/keyindex/internal/workerlist"
)

// listPullInterval is how often a worker re-pulls the master's worker-id
// list; periodic, but no cadence is prescribed beyond that.
const listPullInterval = 2 * time.Second

// selfIP resolves the local address this process is reachable at by
// opening a UDP "connection" toward masterHost (no packets are sent; it
// only consults the routing table) — the Go equivalent of scanning local
// interfaces for the one that reaches the master.
func selfIP(masterHost string, masterPort int) (string, error) {
	conn, err := net.Dial("udp", net.JoinHostPort(masterHost, fmt.Sprint(masterPort)))
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

func resolveMaster(host string, port int) (*net.UDPAddr, error) {
	if ip := net.ParseIP(host); ip != nil {
		return &net.UDPAddr{IP: ip, Port: port}, nil
	}
	return net.ResolveUDPAddr("udp", net.JoinHostPort(host, fmt.Sprint(port)))
}

// Run builds a worker's full component graph (store, worker list, router,
// neighbor link/server, transport, do-list) and blocks until shutdown.
func Run(cfg *config.WorkerConfig) error {
	logger := logging.Configure(logging.Config{
		Level:            cfg.Logging.Level,
		Structured:       cfg.Logging.Structured,
		StructuredFormat: cfg.Logging.StructuredFormat,
		IncludePID:       cfg.Logging.IncludePID,
		ExtraFields:      mergeRole(cfg.Logging.ExtraFields, "worker"),
	})

	ip, err := selfIP(cfg.MasterHost, cfg.MasterPortUDP)
	if err != nil {
		return fmt.Errorf("worker: resolve self address: %w", err)
	}
	selfUDP := workerlist.Address{IP: ip, Port: helpers.ClampIntToUint16(cfg.WPortUDP)}
	selfTCP := workerlist.Address{IP: ip, Port: helpers.ClampIntToUint16(cfg.WPortTCP)}

	masterAddr, err := resolveMaster(cfg.MasterHost, cfg.MasterPortUDP)
	if err != nil {
		return fmt.Errorf("worker: resolve master address: %w", err)
	}

	store := keystore.New(cfg.RecentAddLimit)
	list := workerlist.New()
	srv := transport.NewServer(logger, "0.0.0.0", helpers.ClampIntToUint16(cfg.WPortUDP))
	rtr := router.New(0, store, list, srv, logger)
	link := neighbor.NewLink(0, store, list, cfg.ThresholdNeighborShift, uint32(cfg.MaxKeysToShift), logger)

	w := New(store, list, rtr, srv, masterAddr, selfUDP, selfTCP, logger)
	w.Link = link
	nsrv := &neighbor.Server{Store: store, Logger: logger, OnRangeChange: w.PushKeysInfo}
	w.NeighborServer = nsrv

	items := dolist.New(cfg.ThreadPoolSize)

	srv.Handle(wire.MastWorkerList, func(_ context.Context, _ netbuf.Envelope, payload string, hasPayload bool, _ *net.UDPAddr) (wire.Kind, string, bool) {
		w.HandleWorkerList(payload, hasPayload, items)
		return 0, "", false
	})
	srv.Handle(wire.MastWorkerInfo, func(_ context.Context, _ netbuf.Envelope, payload string, hasPayload bool, _ *net.UDPAddr) (wire.Kind, string, bool) {
		w.HandleWorkerInfo(payload, hasPayload)
		return 0, "", false
	})
	srv.Handle(wire.WorkerLeftNeighbor, func(_ context.Context, _ netbuf.Envelope, payload string, hasPayload bool, _ *net.UDPAddr) (wire.Kind, string, bool) {
		w.HandleLeftNeighbor(payload, hasPayload)
		return 0, "", false
	})
	srv.Handle(wire.WorkerRightNeighbor, func(_ context.Context, _ netbuf.Envelope, payload string, hasPayload bool, _ *net.UDPAddr) (wire.Kind, string, bool) {
		w.HandleRightNeighbor(payload, hasPayload)
		return 0, "", false
	})
	srv.Handle(wire.KeyInsertReq, func(_ context.Context, _ netbuf.Envelope, payload string, hasPayload bool, _ *net.UDPAddr) (wire.Kind, string, bool) {
		w.HandleKeyInsert(payload, hasPayload)
		return 0, "", false
	})
	srv.Handle(wire.KeyInfoReq, func(_ context.Context, _ netbuf.Envelope, payload string, hasPayload bool, _ *net.UDPAddr) (wire.Kind, string, bool) {
		w.HandleKeyInfo(payload, hasPayload)
		return 0, "", false
	})

	items.AddItem(newRegisterItem(w))
	items.AddItem(newListPullItem(w, items, listPullInterval))
	items.AddItem(newMonitorItem(w, cfg.LoopSleepTime))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	udpAddr := fmt.Sprintf(":%d", cfg.WPortUDP)
	tcpAddr := fmt.Sprintf(":%d", cfg.WPortTCP)

	errCh := make(chan error, 3)
	go func() { errCh <- srv.Run(ctx, udpAddr) }()
	go func() { errCh <- nsrv.Run(ctx, tcpAddr) }()
	go items.Run(ctx, cfg.LoopSleepTime)

	var admin *adminapi.Server
	if cfg.Admin.Enabled {
		admin = adminapi.New(logger, cfg.Admin.Host, cfg.Admin.Port, "worker", list)
		go func() {
			if err := admin.ListenAndServe(); err != nil {
				errCh <- err
			}
		}()
		logger.Info("worker admin api listening", "addr", admin.Addr())
	}

	logger.Info("worker listening", "udp", udpAddr, "tcp", tcpAddr, "master", masterAddr.String())

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if admin != nil {
			_ = admin.Shutdown(context.Background())
		}
		link.Close()
		_ = nsrv.Stop(5 * time.Second)
		_ = srv.Stop(5 * time.Second)
		return err
	}

	if admin != nil {
		_ = admin.Shutdown(context.Background())
	}
	link.Close()
	_ = nsrv.Stop(5 * time.Second)
	return srv.Stop(5 * time.Second)
}

func mergeRole(extra map[string]string, role string) map[string]string {
	out := make(map[string]string, len(extra)+1)
	for k, v := range extra {
		out[k] = v
	}
	out["role"] = role
	return out
}
