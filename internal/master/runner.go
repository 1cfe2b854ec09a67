package master

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
	"github.com/kiloop/keyindex/internal/helpers"
	"github.com/kiloop/keyindex/internal/logging"
	"github.com/kiloop/keyindex/internal/netbuf"
	"github.com/kiloop/keyindex/internal/transport"
	"github.com/kiloop/keyindex/internal/wire"
	"github.com/kiloop/keyindex/internal/wireproto"
	"github.com/kiloop/keyindex/internal/workerlist"
)

// Run builds the master's transport server and worker list, wires the
// message handlers, and blocks until a shutdown signal, a fatal topology
// error, or a transport failure.
func Run(cfg *config.MasterConfig) error {
	logger := logging.Configure(logging.Config{
		Level:            cfg.Logging.Level,
		Structured:       cfg.Logging.Structured,
		StructuredFormat: cfg.Logging.StructuredFormat,
		IncludePID:       cfg.Logging.IncludePID,
		ExtraFields:      mergeRole(cfg.Logging.ExtraFields, "master"),
	})

	list := workerlist.New()
	srv := transport.NewServer(logger, "0.0.0.0", helpers.ClampIntToUint16(cfg.PortUDP))
	m := New(list, srv, logger, cfg.MaxKeysPerWorker)

	srv.Handle(wire.MastWorkerAddReq, func(_ context.Context, _ netbuf.Envelope, payload string, hasPayload bool, _ *net.UDPAddr) (wire.Kind, string, bool) {
		m.HandleWorkerAddReq(payload, hasPayload)
		return 0, "", false
	})
	srv.Handle(wire.WorkerKeysInfo, func(_ context.Context, _ netbuf.Envelope, payload string, hasPayload bool, _ *net.UDPAddr) (wire.Kind, string, bool) {
		m.HandleWorkerKeysInfo(payload, hasPayload)
		return 0, "", false
	})
	srv.Handle(wire.MastWorkerListReq, func(_ context.Context, _ netbuf.Envelope, _ string, _ bool, _ *net.UDPAddr) (wire.Kind, string, bool) {
		return m.HandleWorkerListReq()
	})
	srv.Handle(wire.MastWorkerInfoReq, func(_ context.Context, _ netbuf.Envelope, payload string, hasPayload bool, _ *net.UDPAddr) (wire.Kind, string, bool) {
		return m.HandleWorkerInfoReq(payload, hasPayload)
	})
	srv.Handle(wire.MastInfoReq, func(_ context.Context, _ netbuf.Envelope, _ string, _ bool, _ *net.UDPAddr) (wire.Kind, string, bool) {
		body := wireproto.MsgReceived{Status: wire.StatusOK}
		return wire.MsgReceived, string(body.Encode(nil)), true
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	addr := fmt.Sprintf(":%d", cfg.PortUDP)
	errCh := make(chan error, 2)
	go func() { errCh <- srv.Run(ctx, addr) }()

	var admin *adminapi.Server
	if cfg.Admin.Enabled {
		admin = adminapi.New(logger, cfg.Admin.Host, cfg.Admin.Port, "master", list)
		go func() {
			if err := admin.ListenAndServe(); err != nil {
				errCh <- err
			}
		}()
		logger.Info("master admin api listening", "addr", admin.Addr())
	}

	logger.Info("master listening", "addr", addr, "max_keys_per_worker", cfg.MaxKeysPerWorker)

	select {
	case <-ctx.Done():
	case err := <-m.FatalCh:
		logger.Error("master shutting down on fatal topology error", "err", err)
		if admin != nil {
			_ = admin.Shutdown(context.Background())
		}
		_ = srv.Stop(5 * time.Second)
		return err
	case err := <-errCh:
		if admin != nil {
			_ = admin.Shutdown(context.Background())
		}
		return err
	}

	if admin != nil {
		_ = admin.Shutdown(context.Background())
	}
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
