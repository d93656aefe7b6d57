// Command fieldgate runs the field-gateway daemon: it loads a device
// catalog, opens a persistence store, and drives the measure/push/time/
// daily/nightly loops against the Modbus façade until interrupted. No
// discovery matcher or candidate source is wired, so the scheduler's
// discover loop does not run; devices come from the store.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/altibiz/fieldgate/internal/cloudpush"
	"github.com/altibiz/fieldgate/internal/config"
	"github.com/altibiz/fieldgate/internal/measurement"
	"github.com/altibiz/fieldgate/internal/modbus"
	"github.com/altibiz/fieldgate/internal/schedule"
	"github.com/altibiz/fieldgate/internal/store"
	"github.com/altibiz/fieldgate/internal/store/sqlstore"
)

func main() {
	var (
		cfgPath string
		dbPath  string
		pushURL string
	)
	flag.StringVar(&cfgPath, "config", "config/fieldgate.yaml", "path to YAML device catalog")
	flag.StringVar(&dbPath, "db", "fieldgate.db", "path to the sqlite measurement store")
	flag.StringVar(&pushURL, "push-url", "", "remote ingestion endpoint; push loop disabled if empty")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	values, err := config.LoadYAML(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	catalog, err := values.Catalog()
	if err != nil {
		log.Fatalf("resolve device catalog: %v", err)
	}

	deviceStore, err := sqlstore.Open(dbPath)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer deviceStore.Close()

	svc := modbus.NewService(values.Tuning.ServiceParams(), nil)
	defer svc.Shutdown()

	var sink store.MeasurementSink = deviceStore
	var pushSink *schedule.AsyncPushSink
	if pushURL != "" {
		pushSink = schedule.NewAsyncPushSink(deviceStore, cloudpush.NewClient(pushURL), 64, logger)
		sink = pushSink
	}

	pipeline := measurement.NewPipeline(svc, sink, logger)

	sched := &schedule.Scheduler{
		Service:  svc,
		Store:    deviceStore,
		Pipeline: pipeline,
		Push:     pushSink,
		Kinds:    catalog,
		Logger:   logger,
		Intervals: schedule.Intervals{
			Discover: values.Tuning.DiscoveryTimeout * 10,
			Measure:  values.Tuning.RequestTimeout,
			Push:     5 * time.Second,
			Time:     values.Tuning.TimeTimeout * 10,
			Daily:    24 * time.Hour,
			Nightly:  24 * time.Hour,
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		logger.Info("received signal, shutting down", "signal", s.String())
		cancel()
	}()

	if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("scheduler exited", "err", err)
	}
}
