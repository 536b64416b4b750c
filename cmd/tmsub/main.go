// Copyright 2014 The go-ethereum Authors
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

// tmsub subscribes to the event stream of a full node and prints every event as a
// line of JSON.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sunyihoo/tmrpc/log"
	"github.com/sunyihoo/tmrpc/rpc"
	"github.com/urfave/cli/v2"
)

var app = &cli.App{
	Name:                 "tmsub",
	Usage:                "follow the event stream of a full node",
	Flags:                appFlags,
	Action:               tmsub,
	EnableBashCompletion: true,
}

var (
	callCommand = &cli.Command{
		Name:      "call",
		Usage:     "Perform a single RPC call and print the result",
		ArgsUsage: "<method> [params-json]",
		Flags:     appFlags,
		Action:    call,
	}
	dumpConfigCommand = &cli.Command{
		Name:        "dumpconfig",
		Usage:       "Export configuration values in a TOML format",
		ArgsUsage:   "<dumpfile (optional)>",
		Flags:       appFlags,
		Description: `Export configuration values in TOML format (to stdout by default).`,
		Action:      dumpConfig,
	}
)

func init() {
	app.Commands = []*cli.Command{
		callCommand,
		dumpConfigCommand,
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// prepare loads the configuration and sets up logging and metrics. The returned
// function releases what prepare started.
func prepare(ctx *cli.Context) (tmsubConfig, func(), error) {
	cfg, err := loadBaseConfig(ctx)
	if err != nil {
		return cfg, nil, err
	}
	setupLogging(cfg.Log)

	stop := func() {}
	if cfg.Metrics.Addr != "" {
		if stop, err = startMetricsServer(cfg.Metrics.Addr); err != nil {
			return cfg, nil, fmt.Errorf("failed to start metrics server: %v", err)
		}
	}
	return cfg, stop, nil
}

// tmsub is the main entry point. It subscribes to the configured queries and prints
// events until it is interrupted.
func tmsub(ctx *cli.Context) error {
	if args := ctx.Args().Slice(); len(args) > 0 {
		return fmt.Errorf("invalid command: %q", args[0])
	}
	cfg, stop, err := prepare(ctx)
	if err != nil {
		return err
	}
	defer stop()

	sigctx, cancel := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client, err := rpc.DialContext(sigctx, cfg.Endpoint)
	if err != nil {
		return err
	}
	defer client.Close()
	log.Info("Connected to node", "endpoint", cfg.Endpoint, "queries", len(cfg.Queries))

	err = runSubscriptions(sigctx, client, cfg, os.Stdout)
	if sigctx.Err() != nil {
		log.Info("Got interrupt, shutting down...")
	}
	return err
}

func call(ctx *cli.Context) error {
	if ctx.NArg() < 1 || ctx.NArg() > 2 {
		return fmt.Errorf("usage: %s call %s", app.Name, ctx.Command.ArgsUsage)
	}
	cfg, stop, err := prepare(ctx)
	if err != nil {
		return err
	}
	defer stop()

	var args []interface{}
	if ctx.NArg() == 2 {
		params := json.RawMessage(ctx.Args().Get(1))
		if !json.Valid(params) {
			return fmt.Errorf("params are not valid JSON: %s", params)
		}
		args = append(args, params)
	}

	sigctx, cancel := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	client, err := rpc.DialContext(sigctx, cfg.Endpoint)
	if err != nil {
		return err
	}
	defer client.Close()

	var result json.RawMessage
	if err := client.Call(sigctx, &result, ctx.Args().First(), args...); err != nil {
		return err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, result, "", "  "); err != nil {
		return err
	}
	out.WriteByte('\n')
	_, err = out.WriteTo(os.Stdout)
	return err
}

// dumpConfig is the dumpconfig command.
func dumpConfig(ctx *cli.Context) error {
	cfg, err := loadBaseConfig(ctx)
	if err != nil {
		return err
	}
	out, err := tomlSettings.Marshal(&cfg)
	if err != nil {
		return err
	}

	dump := os.Stdout
	if ctx.NArg() > 0 {
		dump, err = os.OpenFile(ctx.Args().Get(0), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return err
		}
		defer dump.Close()
	}
	dump.WriteString("# Note: this config doesn't contain the query catalogue of the node.\n\n")
	dump.Write(out)

	return nil
}
