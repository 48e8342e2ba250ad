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
	"syscall"
	"time"

	"fleetcommand/pkg/command"
	"fleetcommand/pkg/config"
	"fleetcommand/pkg/store"
	"fleetcommand/pkg/travel"
)

var Version = "dev"

// initCommand charts the star systems, builds the facade and restores the
// newest snapshot when the store holds one.
func initCommand() error {
	systems := append([]travel.System(nil), cfg.Systems...)
	if db != nil {
		for _, sys := range cfg.Systems {
			if err := db.UpsertSystem(sys); err != nil {
				return fmt.Errorf("chart %s: %w", sys.ID, err)
			}
		}
		stored, err := db.Systems()
		if err != nil {
			return fmt.Errorf("load systems: %w", err)
		}
		systems = stored
	}
	chart = travel.NewService(cfg.Travel, systems...)

	f, err := command.New(cfg.Command, command.Options{Travel: chart, LogFunc: InfoLog.Printf})
	if err != nil {
		return err
	}
	fleetCmd = f
	if db == nil {
		return nil
	}

	var state command.State
	tick, ok, err := db.LoadLatestSnapshot(&state)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if !ok {
		return nil
	}
	if err := fleetCmd.Restore(state); err != nil {
		return fmt.Errorf("restore tick %d: %w", tick, err)
	}
	InfoLog.Printf("restored tick %d (%d fleets)", tick, len(state.Fleets))
	return nil
}

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "fleetcmd.yaml", "path to config file")
	logDir := flag.String("logs", "./logs", "log directory")
	flag.Parse()

	if *showVersion {
		fmt.Println("fleetcmd", Version)
		return
	}

	var err error
	cfg, err = config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	setupLogging(*logDir)

	db, err = store.Open(cfg.Database)
	if err != nil {
		ErrorLog.Fatalf("open database: %v", err)
	}
	defer db.Close()
	db.SetLogFunc(ErrorLog.Printf)
	InfoLog.Printf("fleetcmd %s: database open (%s)", Version, db.Driver())

	if err := initCommand(); err != nil {
		ErrorLog.Fatalf("command layer: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go runSimulation(ctx)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      newRouter(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	InfoLog.Printf("listening on %s (tick %s, dt %gs)", cfg.Addr(), cfg.Sim.TickInterval, cfg.Sim.DeltaTime)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		ErrorLog.Fatal(err)
	}

	stateLock.Lock()
	snapshotWorld()
	stateLock.Unlock()
	InfoLog.Println("shutdown complete")
}
