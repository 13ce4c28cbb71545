// The searchsync daemon keeps search indexes in step with datastore
// collections. It takes change notifications over HTTP and MQTT, and can
// rebuild every configured index from scratch on demand.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/Fliegerweb/searchsync/conf"
	_ "github.com/Fliegerweb/searchsync/drivers/elasticsearch"
	_ "github.com/Fliegerweb/searchsync/drivers/memsearch"
	_ "github.com/Fliegerweb/searchsync/drivers/memstore"
	_ "github.com/Fliegerweb/searchsync/drivers/sqlstore"
	"github.com/Fliegerweb/searchsync/feed"
	"github.com/Fliegerweb/searchsync/indexer"
	"github.com/Fliegerweb/searchsync/search"
	"github.com/Fliegerweb/searchsync/server"
	"github.com/Fliegerweb/searchsync/store"
	"github.com/Fliegerweb/searchsync/x"
)

var log = x.Log("main")

var (
	config    = flag.String("config", "searchsync.json", "Path to the JSON config file.")
	storeName = flag.String("store", "memstore", "Datastore driver: memstore, postgres or mysql.")
	dsn       = flag.String("dsn", "", "Connection string for the postgres and mysql stores.")
	httpAddr  = flag.String("http", ":8080", "Address the HTTP server listens on.")
	broker    = flag.String("mqtt", "", "MQTT broker to take change events from, e.g. tcp://localhost:1883.")
	topic     = flag.String("mqtt-topic", "searchsync/events", "MQTT topic carrying change events.")
	reindex   = flag.Bool("reindex", false, "Rebuild all indexes before serving.")
	sweep     = flag.Duration("sweep", 0, "Re-reconcile all collections on this cadence, 0 to disable.")
	verbose   = flag.Bool("verbose", false, "Log at debug level.")
)

func initStore() {
	var err error
	switch *storeName {
	case "memstore":
		err = store.Init("memstore")
	case "postgres", "mysql":
		err = store.Init("sqlstore", *storeName, *dsn)
	default:
		log.WithField("store", *storeName).Fatal("Unknown store driver")
	}
	if err != nil {
		x.LogErr(log, err).Fatal("Initing store")
	}
}

func initSearch(cfg *conf.Config) {
	var args []string
	if cfg.URL != "" {
		args = append(args, cfg.URL)
	}
	if cfg.MaxRPS > 0 {
		args = append(args, strconv.FormatFloat(cfg.MaxRPS, 'f', -1, 64))
	}
	if err := search.Init(cfg.Backend, args...); err != nil {
		x.LogErr(log, err).Fatal("Initing search backend")
	}
}

func main() {
	flag.Parse()
	if *verbose {
		x.SetLogLevel("debug")
	}

	cfg, err := conf.Load(*config)
	if err != nil {
		x.LogErr(log, err).WithField("path", *config).Fatal("Loading config")
	}
	initStore()
	initSearch(cfg)
	engine := indexer.New(cfg, store.Get(), search.Get())

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *reindex {
		log.Info("Rebuilding all indexes")
		if err := engine.InitAllIndexes(ctx); err != nil {
			x.LogErr(log, err).Fatal("While rebuilding indexes")
		}
	}

	if *sweep > 0 {
		sw := indexer.NewSweeper(engine, *sweep)
		sw.Start(ctx)
		defer sw.Finish()
	}

	if *broker != "" {
		f := feed.New(*broker, "searchsync-"+uuid.NewString()[:8], *topic, engine)
		if err := f.Start(); err != nil {
			x.LogErr(log, err).Fatal("Starting MQTT feed")
		}
		defer f.Close()
	}

	srv := &http.Server{Addr: *httpAddr, Handler: server.New(engine)}
	go func() {
		log.WithField("addr", *httpAddr).Info("Serving HTTP")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			x.LogErr(log, err).Fatal("Creating listener")
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		x.LogErr(log, err).Error("While shutting down HTTP server")
	}
}
