/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/Seednode/publicgoods/internal/game"
)

const (
	timeout time.Duration = 10 * time.Second

	minForfeitInterval = time.Second
)

func securityHeaders(cfg *Config, w http.ResponseWriter) {
	w.Header().Set("Cross-Origin-Embedder-Policy", "require-corp")
	w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
	w.Header().Set("Cross-Origin-Resource-Policy", "same-site")
	w.Header().Set("Permissions-Policy", "geolocation=(), midi=(), sync-xhr=(), microphone=(), camera=(), magnetometer=(), gyroscope=(), fullscreen=(), payment=()")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data:")

	if cfg.scheme() == "https" {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
	}
}

func realIP(r *http.Request) string {
	host, port, _ := net.SplitHostPort(r.RemoteAddr)
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	} else if ip := r.Header.Get("X-Real-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	}
	if net.ParseIP(host) != nil && strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		return host + ":" + port
	}
	return host
}

func serveVersion(cfg *Config, log *zap.Logger, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(cfg, w)
		w.WriteHeader(http.StatusOK)

		written, err := w.Write([]byte("publicgoods v" + releaseVersion + "\n"))
		if err != nil {
			errs <- err

			return
		}

		log.Debug("SERVE: Version page",
			zap.String("size", humanReadableSize(int64(written))),
			zap.String("client", realIP(r)),
			zap.Duration("elapsed", time.Since(startTime).Round(time.Microsecond)))
	}
}

// sweep runs fn every interval until ctx is done.
func sweep(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// forfeitInterval checks for absent students often enough that they
// forfeit close to the configured timeout.
func forfeitInterval(playerTimeout time.Duration) time.Duration {
	return max(playerTimeout/4, minForfeitInterval)
}

// startSweeps runs the session eviction and player forfeit loops in the
// background.
func startSweeps(ctx context.Context, cfg *Config, log *zap.Logger, registry *game.Registry) {
	go sweep(ctx, cfg.evictionInterval, func() {
		for _, id := range registry.EvictIdle(cfg.sessionTimeout) {
			log.Info("GAMES: Evicted idle game", zap.String("game", id))
		}
	})

	go sweep(ctx, forfeitInterval(cfg.playerTimeout), func() {
		if n := registry.ForfeitAbsent(cfg.playerTimeout); n > 0 {
			log.Info("GAMES: Forfeited absent players", zap.Int("players", n))
		}
	})
}

// drainErrors logs handler write failures until ctx is done.
func drainErrors(ctx context.Context, log *zap.Logger, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errs:
			log.Debug("SERVE: Write failed", zap.Error(err))
		}
	}
}

// newRouter builds every route along with the registry behind them.
func newRouter(cfg *Config, log *zap.Logger, errs chan<- error) (*httprouter.Router, *game.Registry) {
	mux := httprouter.New()

	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, i any) {
		log.Error("SERVE: Recovered from panic", zap.Any("panic", i), zap.String("path", r.URL.Path))

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)
		w.WriteHeader(http.StatusInternalServerError)

		io.WriteString(w, newPage(cfg, "Server Error", "An error has occurred. Please try again."))
	}

	gw := newGateway(cfg, log)
	registry := game.NewRegistry(gw, game.WithLogger(log.Named("game")))
	gw.registry = registry

	mux.GET(cfg.prefix+"/", serveHomePage(cfg, registry, errs))

	mux.GET(cfg.prefix+"/healthz", serveHealthCheck(cfg, errs))

	mux.GET(cfg.prefix+"/protocol.json", serveProtocol(cfg, log, errs))

	mux.GET(cfg.prefix+"/robots.txt", serveRobots(cfg, errs))

	mux.GET(cfg.prefix+"/version", serveVersion(cfg, log, errs))

	if cfg.profile {
		registerProfileHandlers(cfg, log, mux)
	}

	registerGoodsGame(cfg, mux, gw, errs)

	return mux, registry
}

func ServePage(ctx context.Context, cfg *Config, log *zap.Logger) error {
	var err error

	timeZone := os.Getenv("TZ")
	if timeZone != "" {
		time.Local, err = time.LoadLocation(timeZone)
		if err != nil {
			return err
		}
	}

	log.Info("START: publicgoods", zap.String("version", releaseVersion))

	cfg.prefix = strings.TrimSuffix(cfg.prefix, "/")

	errs := make(chan error, 64)

	mux, registry := newRouter(cfg, log, errs)

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.bind, strconv.Itoa(cfg.port)),
		Handler:           mux,
		IdleTimeout:       10 * time.Minute,
		ReadTimeout:       timeout,
		ReadHeaderTimeout: timeout,
		WriteTimeout:      timeout,
	}

	go drainErrors(ctx, log, errs)

	startSweeps(ctx, cfg, log, registry)

	serveErr := make(chan error, 1)

	go func() {
		log.Info("SERVE: Listening", zap.String("url", cfg.scheme()+"://"+srv.Addr+cfg.prefix+"/"))

		var err error
		if cfg.tlsKey != "" && cfg.tlsCert != "" {
			err = srv.ListenAndServeTLS(cfg.tlsCert, cfg.tlsKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info("STOP: Shutting down", zap.Int("sessions", registry.Len()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
