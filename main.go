// likevault is a local archiver for an X.com likes feed: it drives a
// real browser session, reconstructs threads, downloads media once
// and persists everything into a queryable sqlite archive.
//
// This binary is the daemon host a desktop shell embeds: it wires the
// pipeline, schedules periodic incremental runs and waits for
// start/stop signals.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"likevault/internal/collector"
	"likevault/internal/config"
	"likevault/internal/logging"
	"likevault/internal/scheduler"
	"likevault/internal/store"
	"likevault/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "likevault:", err)
		os.Exit(1)
	}
}

func run() error {
	// A .env can override config in dev; absence is normal.
	_ = godotenv.Load()

	cfg, err := config.LoadOrDefault()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}

	dbPath, err := cfg.DatabasePath()
	if err != nil {
		return err
	}
	st, err := store.Open(dbPath, log)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer st.Close()

	coll := collector.New(cfg, st, log)

	sched := scheduler.New(log)
	if cfg.Schedule.Enabled {
		// Synchronous under the job context, so the scheduler's bound
		// actually caps a wedged run.
		err := sched.AddCollectionJob(cfg.Schedule.IntervalHours, func(ctx context.Context) error {
			err := coll.RunOnce(ctx, types.ModeIncremental)
			if errors.Is(err, collector.ErrAlreadyRunning) {
				log.Debug().Msg("scheduled run skipped, one already active")
				return nil
			}
			return err
		})
		if err != nil {
			return err
		}
		sched.Start()
	}

	log.Info().Str("db", dbPath).Msg("likevault running")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutting down")
	<-sched.Stop().Done()
	coll.Stop()
	coll.Wait()
	return nil
}
