// Command dftidx-serve is a small, optional read-only HTTP front-end over
// package indexer/reader: given a directory of gzip trace files (each
// with, or lazily gaining, a sidecar index), it answers byte/line-range
// queries over HTTP. It is explicitly not part of the core — indexer and
// reader never import net/http, gorilla/mux, or redis.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/alecthomas/kong"
	"github.com/go-redis/redis"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dftracer/dftidx/internal/statcache"
	"github.com/dftracer/dftidx/internal/tracelog"
)

type CLI struct {
	Addr      string        `help:"Listen address." default:":8080" env:"DFTIDX_SERVE_ADDR"`
	BaseDir   string        `help:"Directory containing gzip trace files served by name." type:"existingdir" required:""`
	CacheDir  string        `help:"Directory used to cache sources fetched via an http(s):// source." default:".dftidx-cache"`
	RedisAddr string        `help:"Redis address for the shared header cache. Empty uses an in-process cache." env:"DFTIDX_SERVE_REDIS_ADDR"`
	RedisTTL  time.Duration `help:"TTL for cached headers in redis. 0 means no expiry." default:"10m"`
	LogLevel  string        `help:"Log level." default:"info" env:"DFTIDX_SERVE_LOG_LEVEL"`
}

func main() {
	cli := &CLI{}
	kong.Parse(cli,
		kong.Name("dftidx-serve"),
		kong.Description("Read-only HTTP front-end over a directory of dftidx-indexed gzip trace files."),
		kong.UsageOnError(),
		kong.DefaultEnvars("DFTIDX_SERVE"),
	)

	if err := run(cli); err != nil {
		logrus.WithError(err).Fatal("dftidx-serve exiting")
	}
}

func run(cli *CLI) error {
	log := logrus.New()
	level, err := logrus.ParseLevel(cli.LogLevel)
	if err != nil {
		return errors.Wrap(err, "parsing --log-level")
	}
	log.SetLevel(level)

	cache, err := newStatCache(cli, log)
	if err != nil {
		return err
	}

	srv := &server{
		baseDir:  cli.BaseDir,
		cacheDir: cli.CacheDir,
		cache:    cache,
		sink:     tracelog.New(log),
		log:      log,
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", srv.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/stat/{source}", srv.handleStat).Methods(http.MethodGet)
	r.HandleFunc("/ranges/{source}", srv.handleRanges).Methods(http.MethodGet)

	httpSrv := &http.Server{
		Addr:         cli.Addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cli.Addr).Info("dftidx-serve listening")
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "serving HTTP")
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	}
	return nil
}

func newStatCache(cli *CLI, log *logrus.Logger) (statcache.Cache, error) {
	if cli.RedisAddr == "" {
		return statcache.NewMemory(), nil
	}
	client := redis.NewClient(&redis.Options{Addr: cli.RedisAddr})
	if _, err := client.Ping().Result(); err != nil {
		return nil, errors.Wrap(err, "connecting to redis")
	}
	log.WithField("addr", cli.RedisAddr).Info("using redis statcache")
	return statcache.NewRedis(client, cli.RedisTTL), nil
}
