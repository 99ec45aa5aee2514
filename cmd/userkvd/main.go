// Command userkvd serves the user-record line protocol over TCP with a
// selectable readiness back end (poll or epoll), optional Prometheus
// metrics, pprof and etcd node registration.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/userkv/userkv/command"
	"github.com/userkv/userkv/discovery"
	"github.com/userkv/userkv/internal/telemetry"
	pmet "github.com/userkv/userkv/metrics/prom"
	"github.com/userkv/userkv/netloop"
	"github.com/userkv/userkv/store"
)

// Overridden at build time with -ldflags "-X main.version=... -X main.gitSHA=...".
var (
	version = "dev"
	gitSHA  = ""
)

func main() {
	// ---- Flags ----
	var (
		model = flag.String("model", netloop.ModelEpoll, "network model: poll | epoll")
		host  = flag.String("host", "", "listen address (empty = all interfaces)")
		port  = flag.Int("port", 8899, "listen port")

		hashCap = flag.Int("hash-capacity", 1024, "initial hash index capacity")
		lruCap  = flag.Int("lru-capacity", 100, "recency window capacity")
		lruOn   = flag.Bool("lru", true, "enable the recency window")

		metricsAddr = flag.String("metrics", "", "serve Prometheus metrics at addr (e.g. :9100); empty = disabled")
		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")

		etcdEndpoints = flag.String("etcd", "", "comma-separated etcd endpoints for node registration; empty = disabled")
		nodeID        = flag.String("node-id", "", "node id for etcd registration (required with --etcd)")

		debug = flag.Bool("debug", false, "verbose logging")
	)
	flag.Parse()

	// ---- Logging ----
	logCfg := zap.NewProductionConfig()
	if *debug {
		logCfg = zap.NewDevelopmentConfig()
	}
	log, err := logCfg.Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	telemetry.SetBuildInfo(version, gitSHA)

	// ---- Engine ----
	opt := store.Options{
		HashCapacity: *hashCap,
		LRUCapacity:  *lruCap,
		EnableLRU:    *lruOn,
	}
	if *metricsAddr != "" {
		opt.Metrics = pmet.New(telemetry.Registry, "userkv", "store", nil)
	}
	engine := store.NewEngine(opt)

	// ---- Admin HTTP surfaces ----
	if *pprofAddr != "" {
		go func() {
			log.Info("pprof serving", zap.String("addr", *pprofAddr))
			log.Warn("pprof server exited", zap.Error(http.ListenAndServe(*pprofAddr, nil)))
		}()
	}
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.MetricsHandler())
		go func() {
			log.Info("metrics serving", zap.String("addr", *metricsAddr))
			log.Warn("metrics server exited", zap.Error(http.ListenAndServe(*metricsAddr, mux)))
		}()
	}

	// ---- Front end ----
	loop, err := netloop.NewLoop(*model)
	if err != nil {
		log.Error("bad network model", zap.Error(err))
		os.Exit(1)
	}
	handler := command.NewHandler(engine, log.Named("command"))
	srv := netloop.NewServer(loop, handler, log.Named("netloop"))
	handler.Bind(srv)

	if err := srv.Listen(*host, *port); err != nil {
		log.Error("listen failed", zap.Error(err))
		os.Exit(1)
	}

	// ---- Optional etcd registration ----
	if *etcdEndpoints != "" {
		if *nodeID == "" {
			log.Error("--node-id is required with --etcd")
			os.Exit(1)
		}
		cli, err := discovery.NewClient(strings.Split(*etcdEndpoints, ","))
		if err != nil {
			log.Error("etcd client failed", zap.Error(err))
			os.Exit(1)
		}
		defer cli.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		if _, err := discovery.RegisterNode(ctx, cli, log.Named("discovery"), *nodeID, srv.Addr(), 10); err != nil {
			log.Error("node registration failed", zap.Error(err))
			os.Exit(1)
		}
	}

	// ---- Run until signal ----
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		s := <-sig
		log.Info("shutting down", zap.String("signal", s.String()))
		srv.Stop()
	}()

	log.Info("userkvd starting",
		zap.String("model", *model),
		zap.String("addr", srv.Addr()),
		zap.Int("hash_capacity", *hashCap),
		zap.Int("lru_capacity", *lruCap),
		zap.Bool("lru", *lruOn),
		zap.String("version", version),
	)
	if err := srv.Run(); err != nil {
		log.Error("server failed", zap.Error(err))
		os.Exit(1)
	}
	_ = srv.Close()

	st := engine.Stats()
	log.Info("final stats",
		zap.Int("records", st.HashSize),
		zap.Int64("hits", st.Hits),
		zap.Int64("misses", st.Misses),
		zap.Uint64("evictions", st.Evictions),
	)
}
