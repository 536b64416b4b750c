// Copyright 2016 The go-ethereum Authors
// This file is part of go-ethereum.
//
// go-ethereum is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-ethereum is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-ethereum. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sunyihoo/tmrpc/log"
)

// setupLogging installs the root logger. Logs go to stderr so that stdout carries
// nothing but events and call results. The config must be valid.
func setupLogging(cfg logConfig) {
	useColor := (isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())) && os.Getenv("TERM") != "dumb"
	handler, err := newLogHandler(cfg, os.Stderr, useColor)
	if err != nil {
		handler = log.NewTerminalHandler(os.Stderr, useColor)
	}
	log.SetDefault(log.NewLogger(handler))
}

func newLogHandler(cfg logConfig, wr io.Writer, useColor bool) (slog.Handler, error) {
	format, err := cfg.format()
	if err != nil {
		return nil, err
	}
	level := log.FromVerbosity(cfg.Verbosity)
	switch format {
	case "json":
		return log.JSONHandlerWithLevel(wr, level), nil
	case "logfmt":
		return log.LogfmtHandlerWithLevel(wr, level), nil
	default:
		return log.NewTerminalHandlerWithLevel(wr, level, useColor), nil
	}
}

// startMetricsServer serves the Prometheus registry at /metrics. The returned
// function stops the server.
func startMetricsServer(addr string) (func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	log.Info("Starting metrics server", "addr", "http://"+listener.Addr().String()+"/metrics")
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server failed", "err", err)
		}
	}()
	return func() { srv.Close() }, nil
}
