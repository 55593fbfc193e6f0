package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mfeltner/homelink/internal/alert"
	"github.com/mfeltner/homelink/internal/api"
	"github.com/mfeltner/homelink/internal/broker"
	"github.com/mfeltner/homelink/internal/camera"
	"github.com/mfeltner/homelink/internal/config"
	"github.com/mfeltner/homelink/internal/device"
	"github.com/mfeltner/homelink/internal/events"
	"github.com/mfeltner/homelink/internal/storage/postgres"
	"github.com/mfeltner/homelink/internal/version"
)

const (
	eventBufferSize = 256
	shutdownTimeout = 10 * time.Second
)

func main() {
	configPath := flag.String("config", "home.yaml", "path to home.yaml")
	flag.Parse()

	homeCfg, err := config.LoadHomeConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load %s: %v", *configPath, err)
	}

	brokerCfg, err := config.LoadBrokerConfig()
	if err != nil {
		log.Fatalf("failed to load broker config: %v", err)
	}

	eventLog := events.NewLog(eventBufferSize)

	pg, err := postgres.New(homeCfg.Home.ID)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pg.Close()
	eventLog.SetStore(pg)

	ctx := context.Background()

	cache := device.NewStateCache()
	devices, err := pg.ListDevices(ctx)
	if err != nil {
		log.Fatalf("failed to load devices: %v", err)
	}
	cache.Load(devices)

	conn := broker.NewConnection(brokerCfg)
	reg := broker.NewRegistry(conn)

	// The connection uses clean sessions, so the registry's view of what
	// should be subscribed is restored on every (re)connect.
	conn.SetOnConnect(func() {
		reg.Resubscribe()
		eventLog.Emit("info", "broker.connected", "", nil)
	})
	conn.SetStateListener(func(s broker.State) {
		switch s {
		case broker.StateReconnecting:
			eventLog.Emit("warning", "broker.reconnecting", "", nil)
		case broker.StateDisconnected:
			eventLog.Emit("error", "broker.offline", "broker connection lost", nil)
		}
	})

	coord := device.NewCoordinator(homeCfg.Home.ID, pg, conn, eventLog, cache, homeCfg.PendingGrace())

	pipeline := alert.NewPipeline(pg, eventLog)
	if err := pipeline.Start(ctx, reg); err != nil {
		log.Fatalf("failed to start alert pipeline: %v", err)
	}

	// Camera frames ride the broker's WebSocket listener on a connection
	// of their own, so a frame burst never delays control and alert
	// traffic on the TLS connection.
	camConn := broker.NewWebSocketConnection(brokerCfg)
	camReg := broker.NewRegistry(camConn)
	camConn.SetOnConnect(camReg.Resubscribe)
	feed := camera.NewFeed(camReg)

	if err := conn.Connect(); err != nil {
		// Not fatal: the dashboard comes up with the offline banner and
		// the connection keeps retrying.
		log.Printf("initial broker connect failed: %v", err)
	}
	if err := camConn.Connect(); err != nil {
		log.Printf("initial camera broker connect failed: %v", err)
	}

	api.InitAuth()
	api.InitTLS()
	server := api.NewServer(homeCfg.Home.Name, eventLog, coord, cache, pipeline, feed, conn, pg)

	go func() {
		if err := server.ListenAndServe(homeCfg.APIPort()); err != nil {
			log.Fatalf("api server failed: %v", err)
		}
	}()

	hostname, _ := os.Hostname()
	eventLog.Emit("info", "system.startup", "homelink starting", map[string]any{
		"home":     homeCfg.Home.Name,
		"hostname": hostname,
		"version":  version.Version,
		"pid":      os.Getpid(),
	})

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop

	eventLog.Emit("info", "system.shutdown", "homelink stopping", map[string]any{
		"signal": sig.String(),
	})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("api shutdown: %v", err)
	}

	pipeline.Stop()
	camConn.Close()
	conn.Close()
}
