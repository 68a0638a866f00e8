package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/total-shambles/yank/internal/api"
	"github.com/total-shambles/yank/internal/capture"
	"github.com/total-shambles/yank/internal/config"
	"github.com/total-shambles/yank/internal/logx"
	"github.com/total-shambles/yank/internal/metrics"
	"github.com/total-shambles/yank/internal/ollama"
	"github.com/total-shambles/yank/internal/relay"
	"github.com/total-shambles/yank/internal/server"
	"github.com/total-shambles/yank/internal/serverstate"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

// drainPoll is how often in-flight relay calls are checked while draining.
const drainPoll = 100 * time.Millisecond

func main() {
	fs := flag.NewFlagSet("yank", flag.ExitOnError)
	showVersion := fs.Bool("version", false, "print version and exit")
	fs.Usage = func() {
		_, _ = fmt.Fprintf(fs.Output(), "yank version=%s sha=%s date=%s\n\n", version, buildSHA, buildDate)
		fs.PrintDefaults()
	}
	cfg, err := config.Load(fs, os.Args[1:])
	if *showVersion {
		fmt.Printf("yank version=%s sha=%s date=%s\n", version, buildSHA, buildDate)
		return
	}
	if err != nil {
		logx.Log.Fatal().Err(err).Msg("load config")
	}
	logx.Configure(cfg.LogLevel, cfg.LogFormat)

	client, err := ollama.New(cfg.UpstreamURL, nil)
	if err != nil {
		logx.Log.Fatal().Err(err).Msg("upstream url")
	}
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := client.Ping(pingCtx); err != nil {
		logx.Log.Warn().Err(err).Str("url", cfg.UpstreamURL).Msg("upstream not reachable yet")
	} else if models, err := client.Models(pingCtx); err == nil {
		api.AllowListedModels(models)
	}
	pingCancel()
	rl := relay.New(client, cfg.DefaultModel, cfg.RequestTimeout)
	rl.SetMaxLine(cfg.MaxLineBytes)

	var captures capture.Store = capture.NewMemoryStore(cfg.CaptureLimit)
	if cfg.RedisAddr != "" {
		rs, err := capture.NewRedisStore(context.Background(), cfg.RedisAddr, cfg.CaptureLimit)
		if err != nil {
			logx.Log.Fatal().Err(err).Msg("connect redis")
		}
		defer closeQuietly(rs)
		captures = rs
		logx.Log.Info().Str("addr", cfg.RedisAddr).Msg("using redis capture store")
	}

	handler := server.New(cfg, rl, client, captures)
	metrics.SetServerBuildInfo(version, buildSHA, buildDate)
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	var metricsSrv *http.Server
	if !cfg.MetricsOnMainPort() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		for range sigCh {
			if serverstate.IsDraining() || cfg.DrainTimeout == 0 {
				logx.Log.Warn().Msg("termination requested")
				cancel()
				return
			}
			serverstate.StartDrain()
			logx.Log.Info().Dur("timeout", cfg.DrainTimeout).Int64("in_flight", serverstate.InFlight()).Msg("draining; send SIGTERM again to terminate immediately")
			go func(d time.Duration) {
				waitIdle(ctx, d)
				cancel()
			}(cfg.DrainTimeout)
		}
	}()
	go func() {
		<-ctx.Done()
		if err := srv.Shutdown(context.Background()); err != nil {
			logx.Log.Error().Err(err).Msg("server shutdown")
		}
	}()
	if metricsSrv != nil {
		go func() {
			<-ctx.Done()
			if err := metricsSrv.Shutdown(context.Background()); err != nil {
				logx.Log.Error().Err(err).Msg("metrics server shutdown")
			}
		}()
	}

	if cfg.APIKey != "" {
		logx.Log.Info().Msg("API key auth enabled")
	}
	logx.Log.Info().Int("port", cfg.Port).Str("upstream", cfg.UpstreamURL).Str("model", cfg.DefaultModel).Dur("timeout", cfg.RequestTimeout).Int("max_line_bytes", cfg.MaxLineBytes).Msg("server starting")
	if metricsSrv != nil {
		go func() {
			logx.Log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server starting")
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logx.Log.Error().Err(err).Msg("metrics server error")
			}
		}()
	}
	serverstate.SetState("ready")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logx.Log.Fatal().Err(err).Msg("server error")
	}
}

// waitIdle returns once no relay call is in flight, the drain timeout has
// passed, or ctx is done. A negative timeout waits without limit.
func waitIdle(ctx context.Context, timeout time.Duration) {
	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}
	tick := time.NewTicker(drainPoll)
	defer tick.Stop()
	for serverstate.InFlight() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			logx.Log.Warn().Int64("in_flight", serverstate.InFlight()).Msg("drain timeout exceeded; terminating")
			return
		case <-tick.C:
		}
	}
	logx.Log.Info().Msg("drained")
}

func closeQuietly(c io.Closer) {
	if err := c.Close(); err != nil {
		logx.Log.Warn().Err(err).Msg("close")
	}
}
