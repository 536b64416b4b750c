// Copyright 2017 The go-ethereum Authors
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
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/naoina/toml"
	"github.com/sunyihoo/tmrpc/common/chanx"
	"github.com/urfave/cli/v2"
)

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		return fmt.Errorf("field '%s' is not defined in %s", field, rt.String())
	},
}

type logConfig struct {
	Verbosity int
	Format    string `toml:",omitempty"` // terminal, logfmt or json
	JSON      bool   `toml:",omitempty"` // same as Format = "json"
}

// format returns the configured log format, "terminal" if none is set.
func (cfg *logConfig) format() (string, error) {
	format := cfg.Format
	if cfg.JSON {
		if format != "" && format != "json" {
			return "", fmt.Errorf("log format %q conflicts with JSON logging", format)
		}
		format = "json"
	}
	switch format {
	case "":
		return "terminal", nil
	case "terminal", "logfmt", "json":
		return format, nil
	}
	return "", fmt.Errorf("unknown log format %q", format)
}

type metricsConfig struct {
	Addr string `toml:",omitempty"`
}

type tmsubConfig struct {
	Endpoint  string
	Queries   []string
	Buffer    int
	Overflow  string
	Retry     bool
	RetryRate float64 // resubscriptions per second and query

	Log     logConfig
	Metrics metricsConfig
}

var defaultConfig = tmsubConfig{
	Endpoint:  "ws://127.0.0.1:26657/websocket",
	Overflow:  chanx.OverflowEvict.String(),
	RetryRate: 1,
	Log:       logConfig{Verbosity: 3},
}

func loadConfig(file string, cfg *tmsubConfig) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

// loadBaseConfig loads the configuration from the defaults, the config file and the
// command line flags, in that order.
func loadBaseConfig(ctx *cli.Context) (tmsubConfig, error) {
	cfg := defaultConfig

	if file := ctx.String(configFileFlag.Name); file != "" {
		if err := loadConfig(file, &cfg); err != nil {
			return cfg, err
		}
	}

	// Apply flags.
	if ctx.IsSet(endpointFlag.Name) || cfg.Endpoint == "" {
		cfg.Endpoint = ctx.String(endpointFlag.Name)
	}
	cfg.Queries = dedupQueries(append(cfg.Queries, ctx.StringSlice(queryFlag.Name)...))
	if ctx.IsSet(bufferFlag.Name) {
		cfg.Buffer = ctx.Int(bufferFlag.Name)
	}
	if ctx.IsSet(overflowFlag.Name) {
		cfg.Overflow = ctx.String(overflowFlag.Name)
	}
	if ctx.IsSet(retryFlag.Name) {
		cfg.Retry = ctx.Bool(retryFlag.Name)
	}
	if ctx.IsSet(retryRateFlag.Name) {
		cfg.RetryRate = ctx.Float64(retryRateFlag.Name)
	}
	if ctx.IsSet(verbosityFlag.Name) {
		cfg.Log.Verbosity = ctx.Int(verbosityFlag.Name)
	}
	if ctx.IsSet(logFormatFlag.Name) {
		cfg.Log.Format = ctx.String(logFormatFlag.Name)
	}
	if ctx.IsSet(logJSONFlag.Name) {
		cfg.Log.JSON = ctx.Bool(logJSONFlag.Name)
	}
	if ctx.IsSet(metricsAddrFlag.Name) {
		cfg.Metrics.Addr = ctx.String(metricsAddrFlag.Name)
	}
	return cfg, cfg.validate()
}

func (cfg *tmsubConfig) validate() error {
	if cfg.Endpoint == "" {
		return errors.New("no endpoint configured")
	}
	if cfg.Buffer < 0 {
		return fmt.Errorf("invalid buffer size %d", cfg.Buffer)
	}
	if _, err := chanx.ParseOverflowPolicy(cfg.Overflow); err != nil {
		return err
	}
	if _, err := cfg.Log.format(); err != nil {
		return err
	}
	if cfg.Retry && cfg.RetryRate <= 0 {
		return fmt.Errorf("invalid retry rate %v", cfg.RetryRate)
	}
	return nil
}

// overflowPolicy returns the parsed overflow policy. The config must be valid.
func (cfg *tmsubConfig) overflowPolicy() chanx.OverflowPolicy {
	p, _ := chanx.ParseOverflowPolicy(cfg.Overflow)
	return p
}

// dedupQueries trims the queries and drops empty and repeated ones, keeping the
// first occurrence of each.
func dedupQueries(queries []string) []string {
	var (
		seen = mapset.NewThreadUnsafeSet[string]()
		out  = make([]string, 0, len(queries))
	)
	for _, q := range queries {
		q = strings.TrimSpace(q)
		if q == "" || !seen.Add(q) {
			continue
		}
		out = append(out, q)
	}
	return out
}
