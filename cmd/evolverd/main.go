// Command evolverd drives one eVOLVER rig: the serial link to its
// microcontroller, the robotics print-server bank and arm, and the client
// event surface a transport adapter dispatches through. The TCP socket
// server that actually accepts client connections is not part of this
// binary; evolverd wires the control plane and exposes internal/events'
// Router and Broadcaster for that adapter to sit in front of.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"evolverd/internal/armdriver"
	"evolverd/internal/broadcast"
	"evolverd/internal/commandqueue"
	"evolverd/internal/config"
	"evolverd/internal/events"
	"evolverd/internal/fluidics"
	"evolverd/internal/pumpclient"
	"evolverd/internal/rigclock"
	"evolverd/internal/serial"
	"evolverd/internal/status"
	"evolverd/internal/telemetry/health"
	"evolverd/internal/telemetry/logging"
	"evolverd/internal/telemetry/metrics"
	"evolverd/internal/telemetry/tracing"
)

func main() {
	var (
		configPath       string
		calibrationsPath string
		deviceNamePath   string
		metricsAddr      string
		healthAddr       string
		enableMetrics    bool
		showVersion      bool
	)
	flag.StringVar(&configPath, "config", "conf.yml", "Path to the rig configuration file")
	flag.StringVar(&calibrationsPath, "calibrations", "calibrations.json", "Path to the calibration records file")
	flag.StringVar(&deviceNamePath, "device-name", "device_name.json", "Path to the device-name file")
	flag.StringVar(&metricsAddr, "metrics", "", "Expose Prometheus metrics on address (e.g. :9090)")
	flag.StringVar(&healthAddr, "health", "", "Expose health endpoint on address (e.g. :9091)")
	flag.BoolVar(&enableMetrics, "enable-metrics", false, "Enable the Prometheus metrics provider")
	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println("evolverd - eVOLVER rig control plane")
		return
	}

	store, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	calibrations, err := config.LoadCalibrations(calibrationsPath)
	if err != nil {
		log.Fatalf("load calibrations: %v", err)
	}
	if _, err := store.LoadDeviceName(deviceNamePath); err != nil {
		log.Printf("load device name: %v (continuing with empty name)", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("signal received; initiating graceful shutdown...")
		cancel()
		<-sigCh
		log.Println("second signal received; forcing exit")
		os.Exit(1)
	}()

	var provider metrics.Provider = metrics.NewNoopProvider()
	var promProvider *metrics.PrometheusProvider
	if enableMetrics {
		promProvider = metrics.NewPrometheusProvider(metrics.PrometheusProviderOptions{})
		provider = promProvider
	}

	tracer, tp := tracing.New("evolverd")
	defer func() { _ = tp.Shutdown(context.Background()) }()

	logger := logging.New(nil)
	clock := rigclock.Real()

	cfg := store.Snapshot()

	port, err := serial.OpenTTY(cfg.Serial.Device)
	if err != nil {
		log.Fatalf("open serial device %s: %v", cfg.Serial.Device, err)
	}
	defer func() { _ = port.Close() }()
	framer := serial.NewFramer(port, cfg.Serial).WithClock(clock)

	queue := commandqueue.New().WithClock(clock)
	statusActor := status.NewActor(ctx)

	boards := make(map[string]fluidics.Board, len(cfg.Robotics.PrintServers))
	httpClient := &http.Client{Timeout: 30 * time.Second}
	for _, server := range cfg.Robotics.PrintServers {
		boards[strconv.Itoa(server.Index)] = pumpclient.New(server, httpClient).WithClock(clock)
	}

	armClient, err := armdriver.Dial(ctx, cfg.Robotics.ArmIP)
	if err != nil {
		log.Fatalf("dial arm controller %s: %v", cfg.Robotics.ArmIP, err)
	}
	defer func() { _ = armClient.Close() }()
	mirror := armdriver.NewMirror(statusActor, nil, logger)
	guardedArm := armdriver.NewGuardedClient(armClient, mirror.Snapshot, statusActor)
	connectErr := guardedArm.Connect(ctx)
	if connectErr != nil {
		logger.ErrorCtx(ctx, "initial arm connect failed", "error", connectErr)
	}
	statusActor.SetArmConnected(connectErr == nil)

	fluidicsEngine := fluidics.NewEngine(cfg, boards, guardedArm, statusActor, queue, clock, logger)
	mirror.SetStopper(fluidicsEngine)

	var surface *events.Surface
	broadcastEngine := broadcast.New(framer, queue, store, provider, tracer, logger, func(msg broadcast.Message) {
		if surface == nil {
			return
		}
		surface.Broadcaster().Publish(events.Envelope{Namespace: events.DPUEvolver, Event: events.EventBroadcast, Payload: msg})
	})
	broadcastEngine = broadcastEngine.WithClock(clock)

	surface = events.NewSurface(events.Paths{
		Config:       configPath,
		Calibrations: calibrationsPath,
		DeviceName:   deviceNamePath,
	}, store, calibrations, broadcastEngine, queue, fluidicsEngine, guardedArm, statusActor, logger)

	if watcher, err := config.NewWatcher(configPath); err != nil {
		logger.ErrorCtx(ctx, "config watcher disabled", "error", err)
	} else {
		go watcher.Run(ctx,
			func(fresh *config.Store) {
				snap := fresh.Snapshot()
				store.Replace(snap)
				surface.PublishConfigReloaded(snap)
			},
			func(err error) { logger.ErrorCtx(ctx, "config reload failed", "error", err) },
		)
	}

	evaluator := health.NewEvaluator(5*time.Second,
		health.ArmProbe("arm", func() (connected, faulted bool) {
			snap := statusActor.Snapshot()
			return snap.Arm.Connected, statusActor.EmergencyStopActive()
		}),
	)
	for _, server := range cfg.Robotics.PrintServers {
		board := boards[strconv.Itoa(server.Index)]
		evaluator.Register(health.PrintServerProbe(fmt.Sprintf("print_server_%d", server.Index), func(ctx context.Context) error {
			_, err := board.Status(ctx)
			return err
		}))
	}

	if metricsAddr != "" && promProvider != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promProvider.MetricsHandler())
		srv := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			<-ctx.Done()
			_ = srv.Shutdown(context.Background())
		}()
		go func() {
			log.Printf("metrics listening on %s", metricsAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("metrics server: %v", err)
			}
		}()
	}

	if healthAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			snap := evaluator.Evaluate(r.Context())
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(snap)
		})
		srv := &http.Server{Addr: healthAddr, Handler: mux}
		go func() {
			<-ctx.Done()
			_ = srv.Shutdown(context.Background())
		}()
		go func() {
			log.Printf("health endpoint listening on %s", healthAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("health server: %v", err)
			}
		}()
	}

	log.Printf("evolverd started: device=%s arm=%s print_servers=%d", cfg.Serial.Device, cfg.Robotics.ArmIP, len(cfg.Robotics.PrintServers))
	runBroadcastLoop(ctx, broadcastEngine, store, logger)
	log.Println("evolverd shut down")
}

// runBroadcastLoop drives RunCycle at the configured cadence until ctx is
// canceled. A ticker is used rather than a fixed sleep so a slow cycle
// doesn't accumulate drift; RunCycle itself is a no-op while a cycle (or
// an immediate) is already in flight.
func runBroadcastLoop(ctx context.Context, eng *broadcast.Engine, store *config.Store, logger logging.Logger) {
	ticker := time.NewTicker(broadcastInterval(store))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cfg := store.Snapshot()
			settle := time.Duration(cfg.SettleSeconds) * time.Second
			if err := eng.RunCycle(ctx, settle); err != nil {
				logger.ErrorCtx(ctx, "broadcast cycle failed", "error", err)
			}
		}
	}
}

func broadcastInterval(store *config.Store) time.Duration {
	seconds := store.Snapshot().BroadcastTimingSeconds
	if seconds <= 0 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}
