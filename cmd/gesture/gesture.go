package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/gesture.control/internal/api"
	"github.com/banshee-data/gesture.control/internal/capture"
	"github.com/banshee-data/gesture.control/internal/classifier"
	"github.com/banshee-data/gesture.control/internal/db"
	"github.com/banshee-data/gesture.control/internal/dispatch"
	"github.com/banshee-data/gesture.control/internal/health"
	"github.com/banshee-data/gesture.control/internal/monitoring"
	"github.com/banshee-data/gesture.control/internal/pipeline"
	"github.com/banshee-data/gesture.control/internal/serialmux"
	"github.com/banshee-data/gesture.control/internal/version"
)

var (
	devMode        = flag.Bool("dev", false, "Run in dev mode, replaying a capture instead of reading the sensor")
	replayFile     = flag.String("replay", "", "Capture CSV to replay in dev mode (data_<label>_<ts>.csv)")
	replayInterval = flag.Duration("replay-interval", 0, "Delay between replayed samples (0 = use the capture's own spacing)")
	listen         = flag.String("listen", ":8080", "HTTP listen address for the status API and /debug (empty disables)")
	grpcListen     = flag.String("grpc-listen", ":9090", "gRPC health listen address (empty disables)")
	configFile     = flag.String("config", "", "Path to a JSON config file (defaults are used when empty)")
	modelFile      = flag.String("model", "model.json", "Path to the trained model artifact")
	port           = flag.String("port", "", "Serial port to use, overriding the config (ignored in dev mode)")
	commandAddr    = flag.String("command-addr", "", "host:port of the command receiver, overriding the config")
	dbFile         = flag.String("db", "gesture.db", "Path to the SQLite database file (empty disables history)")
	debug          = flag.Bool("debug", false, "Enable the per-sample trace log stream")
	showVersion    = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	monitoring.SetLogWriters(logWriters(*debug, os.Stderr))
	log.Print(version.String())

	if err := validateFlags(*devMode, *replayFile); err != nil {
		log.Fatal(err)
	}

	cfg, err := loadConfig(*configFile, *port, *commandAddr)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	pcfg := cfg.PipelineConfig()

	clf, err := classifier.Load(*modelFile, pcfg.FeatureSet.Dimension())
	if err != nil {
		log.Fatalf("model %s: %v", *modelFile, err)
	}
	log.Printf("loaded model %s: %d features (%s), labels %v", *modelFile, clf.Dimension(), pcfg.FeatureSet, clf.Labels())

	table, err := cfg.CommandTable()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if missing := table.Missing(clf.Labels()); len(missing) > 0 && table.Fallback() == dispatch.CommandNone {
		log.Printf("warning: labels %v have no command and will not be dispatched", missing)
	}
	dispatcher := dispatch.New(table, cfg.DispatchOptions())

	var sensor serialmux.SerialMuxInterface
	source := "serial:" + cfg.GetSerial().Port
	if *devMode {
		c, err := capture.ReadFile(*replayFile)
		if err != nil {
			log.Fatalf("failed to open replay file: %v", err)
		}
		if c.ExceedsCutoff(capture.DefaultCutoff) {
			log.Printf("warning: %s has samples above the %.0f safety cutoff", *replayFile, capture.DefaultCutoff)
		}
		interval := samplePeriod(c, *replayInterval)
		log.Printf("replaying %d samples of %q every %s", c.Len(), c.Label, interval)
		sensor = serialmux.NewMockSerialMux(replayLines(c), interval)
		source = "replay:" + *replayFile
	} else {
		serialCfg := cfg.GetSerial()
		sensor, err = serialmux.NewRealSerialMux(serialCfg.Port, serialCfg.PortOptions)
		if err != nil {
			log.Fatalf("failed to open sensor port %s: %v", serialCfg.Port, err)
		}
		log.Printf("opened sensor %s (%s)", serialCfg.Port, serialCfg.PortOptions)
	}
	defer sensor.Close()

	var store *db.DB
	var recorder *db.Recorder
	var runID string
	if *dbFile != "" {
		store, err = db.NewDB(*dbFile)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer store.Close()

		runID, err = store.StartRun(context.Background(), db.RunInfo{
			Source:      source,
			ModelPath:   *modelFile,
			FeatureSet:  string(pcfg.FeatureSet),
			WindowSize:  pcfg.WindowSize,
			Overlap:     pcfg.Overlap,
			Threshold:   pcfg.ConfidenceThreshold,
			Cooldown:    pcfg.Cooldown,
			CommandAddr: cfg.GetCommandAddr(),
		}, time.Now())
		if err != nil {
			log.Fatalf("failed to record run: %v", err)
		}
		recorder = store.NewRecorder(runID)
	}

	opts := []pipeline.Option{}
	if recorder != nil {
		opts = append(opts, pipeline.WithRecorder(recorder))
	}

	var hs *health.Server
	if *grpcListen != "" {
		hs = health.New(*grpcListen)
		if err := hs.Start(); err != nil {
			log.Fatalf("failed to start gRPC health server: %v", err)
		}
		defer hs.Stop()
		opts = append(opts, pipeline.WithStateListener(hs.SetState))
	}

	p, err := pipeline.New(pcfg, clf, dispatcher, opts...)
	if err != nil {
		log.Fatalf("pipeline: %v", err)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// the HTTP server outlives the pipeline until shutdown so the final
	// status stays readable while the run is finalised
	httpCtx, stopHTTP := context.WithCancel(context.Background())
	defer stopHTTP()

	if *listen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()

			var history api.DecisionStore
			if store != nil {
				history = store
			}
			apiServer := api.NewServer(p, dispatcher, sensor, history, clf.Labels())
			apiServer.SetRunID(runID)

			mux := apiServer.ServeMux()
			apiServer.AttachAdminRoutes(mux)
			sensor.AttachAdminRoutes(mux)
			if store != nil {
				if err := store.AttachAdminRoutes(mux); err != nil {
					log.Printf("failed to attach db admin routes: %v", err)
				}
			}
			serveHTTP(httpCtx, *listen, api.LoggingMiddleware(mux))
		}()
	}

	runErr := p.Run(ctx, sensor)
	reason, failed := stopReason(ctx, runErr, *devMode)
	stats := p.Stats()
	log.Printf("pipeline stopped (%s): %d samples, %d windows, %d decisions, %d dispatched, %d failed sends",
		reason, stats.Samples, stats.Windows, stats.Decisions, stats.Dispatched, stats.FailedSends)

	if store != nil {
		finishCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := store.FinishRun(finishCtx, runID, time.Now(), reason, stats); err != nil {
			log.Printf("failed to finish run %s: %v", runID, err)
		}
		cancel()
	}

	stopHTTP()
	wg.Wait()
	log.Printf("Graceful shutdown complete")

	if failed {
		// deferred closes are skipped by os.Exit
		sensor.Close()
		if hs != nil {
			hs.Stop()
		}
		if store != nil {
			store.Close()
		}
		log.Printf("exiting with error: %v", runErr)
		os.Exit(1)
	}
}

func serveHTTP(ctx context.Context, addr string, h http.Handler) {
	server := &http.Server{
		Addr:    addr,
		Handler: h,
	}

	// Start server in a goroutine so it doesn't block
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	log.Printf("HTTP server routine stopped")
}
