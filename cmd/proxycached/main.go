// Command proxycached is the entry point wiring the Object Store, Chunk
// Pool, Atom Table, Cache Coherence Engine, Eviction Engine, and their
// disk/fetch/forbidden/stats collaborators into a running process.
// Grounded on the teacher's ais/daemon.go cliFlags/run() pattern and
// cmd/aisnodeprofile/main.go's `os.Exit(run())` idiom.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aistore-polipo/coalescecache/atom"
	"github.com/aistore-polipo/coalescecache/cluster"
	"github.com/aistore-polipo/coalescecache/cmn"
	"github.com/aistore-polipo/coalescecache/coherence"
	"github.com/aistore-polipo/coalescecache/disk"
	"github.com/aistore-polipo/coalescecache/fetch"
	"github.com/aistore-polipo/coalescecache/forbidden"
	"github.com/aistore-polipo/coalescecache/hk"
	"github.com/aistore-polipo/coalescecache/memsys"
	"github.com/aistore-polipo/coalescecache/proxy"
	"github.com/aistore-polipo/coalescecache/stats"
	"github.com/aistore-polipo/coalescecache/statuspage"
	"github.com/aistore-polipo/coalescecache/xaction"
)

type cliFlags struct {
	configFile  string
	listenAddr  string
	denyListFile string
}

func main() {
	os.Exit(run())
}

func run() int {
	var f cliFlags
	flag.StringVar(&f.configFile, "config", "", "path to a JSON config file (optional; defaults applied otherwise)")
	flag.StringVar(&f.listenAddr, "listen", ":8080", "forward-proxy listen address")
	flag.StringVar(&f.denyListFile, "denylist", "", "path to a forbidden-URL deny-list file (optional)")
	flag.Parse()
	defer glog.Flush()

	cfg, err := loadConfig(f.configFile)
	if err != nil {
		glog.Errorf("config: %v", err)
		return 1
	}

	pool := memsys.NewPool(cfg.Chunk.SizeBytes, cfg.Chunk.LowMark, cfg.Chunk.HighMark, cfg.Chunk.CriticalMark)
	atoms := atom.NewTable()
	clock := hk.RealClock{}
	housekeeper := hk.New()
	diskStore := disk.NewStore(cfg.DiskDir, cfg.Chunk.SizeBytes)

	requestQueueDepth := func() bool { return false } // no request-queue collaborator in this module; always false
	scheduler := hk.NewScheduler(requestQueueDepth)

	store := cluster.NewStore(cfg, pool, atoms, clock, scheduler, diskStore)

	engine := xaction.NewEngine(store, diskStore, pool, scheduler, cfg)
	store.SetEvictor(engine)

	fetchDriver := fetch.NewDriver(atoms, clock, pool, 30*time.Second)

	var checker forbidden.Checker = forbidden.AllowAll
	if f.denyListFile != "" {
		loaded, err := forbidden.LoadFile(f.denyListFile)
		if err != nil {
			glog.Errorf("forbidden: loading deny-list %s: %v", f.denyListFile, err)
			return 1
		}
		checker = loaded
	}

	coherenceCfg := coherence.Config{
		CacheIsShared:       cfg.Freshness.CacheIsShared,
		MindlesslyCacheVary: cfg.Freshness.MindlesslyCacheVary,
		MaxExpiresAge:       int64(cfg.Freshness.MaxExpiresAge.Seconds()),
		MaxAge:              int64(cfg.Freshness.MaxAge.Seconds()),
		MaxAgeFraction:      cfg.Freshness.MaxAgeFraction,
		MaxNoModifiedAge:    int64(cfg.Freshness.MaxNoModifiedAge.Seconds()),
	}
	handler := proxy.NewHandler(store, clock, fetchDriver, checker, coherenceCfg)

	reg := prometheus.NewRegistry()
	metrics := stats.NewRunner(reg)

	housekeeper.Reg("eviction.idle-sweep", func() {
		engine.DiscardObjects(false, false)
	}, cfg.Object.IdleTime)
	housekeeper.Reg("stats.sample", func() {
		metrics.Sample(store.PublicObjectCount(), store.PrivateObjectCount(), pool.UsedChunks())
	}, 10*time.Second)
	go housekeeper.Run()
	defer housekeeper.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/status", statuspage.Handler(func() statuspage.Snapshot {
		return statuspage.Snapshot{
			ObjectsPublic:  store.PublicObjectCount(),
			ObjectsPrivate: store.PrivateObjectCount(),
			ChunksUsed:     pool.UsedChunks(),
			ChunksLowMark:  pool.LowMark(),
			ChunksHighMark: pool.HighMark(),
		}
	}))
	mux.HandleFunc("/", proxyGetHandler(handler, pool))

	srv := &http.Server{Addr: f.listenAddr, Handler: mux}
	go func() {
		glog.Infof("listening on %s", f.listenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			glog.Errorf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	glog.Infof("shutting down")
	return 0
}

func loadConfig(path string) (*cmn.Config, error) {
	if path == "" {
		return cmn.DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return cmn.LoadConfig(data)
}

// proxyGetHandler is a minimal demonstration surface for the Object
// Store: it is not the HTTP/1.1 forward-proxy framing spec.md §1 excludes
// (no CONNECT, no arbitrary method support), only enough to resolve a GET
// against the cache and stream back whatever contiguous bytes are
// currently filled.
func proxyGetHandler(h *proxy.Handler, pool cluster.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target := r.URL.Query().Get("url")
		if target == "" {
			http.Error(w, "missing ?url=", http.StatusBadRequest)
			return
		}

		o, err := h.Get(target, coherence.NoCacheControl, r.RemoteAddr)
		if err != nil {
			if err == proxy.ErrForbidden {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		defer o.Release()

		var body []byte
		for i := 0; i < o.NumChunks() && !o.ChunkIsHole(i); i++ {
			body = append(body, o.ChunkBuf(i)...)
			if int64(o.ChunkLength(i)) < pool.ChunkSize() {
				break // a partial chunk ends the contiguous prefix
			}
		}
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(body)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}
}
