package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mjl-/msgview/config"
	"github.com/mjl-/msgview/mlog"
	"github.com/mjl-/msgview/msgvar"
	"github.com/mjl-/msgview/store"
	"github.com/mjl-/msgview/webmail"
)

func cmdServe(c *cmd) {
	c.help = `Start msgview, serving rendered messages over HTTP.

Messages are served at /msg/<inbox>/<id> as JSON, and their sanitized body at
/msg/<inbox>/<id>/body, for display in a sandboxed iframe. A JSON API is served
at /api/. Requests must have the account header set by an authenticating
reverse proxy, see HTTP.AccountHeader in the config file.

If configured, prometheus metrics are served at /metrics on a separate address.
`
	args := c.Parse()
	if len(args) != 0 {
		c.Usage()
	}

	mlog.Logfmt = true
	conf := mustLoadConfig()
	log := c.log
	log.Print("starting msgview",
		slog.String("version", msgvar.Version),
		slog.Any("pid", os.Getpid()),
		slog.String("config", conf.Path),
		slog.String("datadir", conf.DataDir))

	db := mustOpenDB(log, conf)
	defer closeDB(log, db)

	servers, err := httpServers(log, conf, db)
	xcheckf(err, "initializing http servers")
	for _, srv := range servers {
		go func(srv *http.Server) {
			log.Print("listening for http", slog.String("addr", srv.Addr))
			err := srv.ListenAndServe()
			if !errors.Is(err, http.ErrServerClosed) {
				log.Fatalx("http server", err, slog.String("addr", srv.Addr))
			}
		}(srv)
	}

	// Graceful shutdown.
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	sig := <-sigc
	log.Print("shutting down, waiting max 3s for existing connections", slog.Any("signal", sig))
	shutdown(log, servers)
}

// httpServers returns the server for the web interface, and one for metrics if
// configured.
func httpServers(xlog mlog.Log, conf config.Static, db *store.DB) ([]*http.Server, error) {
	s := &webmail.Server{
		DB:            db,
		AccountHeader: conf.HTTP.AccountHeader,
		Inliner:       newInliner(conf),
	}
	h, err := s.Handler()
	if err != nil {
		return nil, err
	}

	newServer := func(addr string, h http.Handler) *http.Server {
		return &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: 30 * time.Second,
			ErrorLog:          log.New(mlog.ErrWriter(xlog, mlog.LevelInfo, "http server error"), "", 0),
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/msg/", h)
	mux.Handle("/api/", h)
	servers := []*http.Server{newServer(conf.HTTP.Address, mux)}

	if conf.Metrics != nil {
		mmux := http.NewServeMux()
		mmux.Handle("/metrics", promhttp.Handler())
		servers = append(servers, newServer(conf.Metrics.Address, mmux))
	}
	return servers, nil
}

func shutdown(log mlog.Log, servers []*http.Server) {
	ctx, cancel := context.WithTimeout(ctxbg, 3*time.Second)
	defer cancel()
	for _, srv := range servers {
		err := srv.Shutdown(ctx)
		log.Check(err, "shutting down http server", slog.String("addr", srv.Addr))
	}
}
