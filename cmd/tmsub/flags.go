// Copyright 2024 The go-ethereum Authors
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
	"github.com/urfave/cli/v2"
)

const (
	clientCategory  = "CLIENT"
	loggingCategory = "LOGGING AND DEBUGGING"
	metricsCategory = "METRICS"
)

var (
	configFileFlag = &cli.StringFlag{
		Name:     "config",
		Usage:    "TOML configuration file",
		Category: clientCategory,
	}
	endpointFlag = &cli.StringFlag{
		Name:     "endpoint",
		Usage:    "RPC endpoint of the node (http, https, ws or wss)",
		Value:    defaultConfig.Endpoint,
		EnvVars:  []string{"TMSUB_ENDPOINT"},
		Category: clientCategory,
	}
	queryFlag = &cli.StringSliceFlag{
		Name:     "query",
		Usage:    "Event query to subscribe to, may be given more than once",
		Category: clientCategory,
	}
	bufferFlag = &cli.IntFlag{
		Name:     "buffer",
		Usage:    "Events buffered per subscription (0 = unbounded)",
		Value:    defaultConfig.Buffer,
		Category: clientCategory,
	}
	overflowFlag = &cli.StringFlag{
		Name:     "overflow",
		Usage:    "What to do when a bounded buffer is full: evict, block, drop-newest or drop-oldest",
		Value:    defaultConfig.Overflow,
		Category: clientCategory,
	}
	retryFlag = &cli.BoolFlag{
		Name:     "retry",
		Usage:    "Re-establish subscriptions that ended",
		Category: clientCategory,
	}
	retryRateFlag = &cli.Float64Flag{
		Name:     "retry.rate",
		Usage:    "Maximum resubscriptions per second and query",
		Value:    defaultConfig.RetryRate,
		Category: clientCategory,
	}

	verbosityFlag = &cli.IntFlag{
		Name:     "verbosity",
		Usage:    "Logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=detail",
		Value:    defaultConfig.Log.Verbosity,
		Category: loggingCategory,
	}
	logFormatFlag = &cli.StringFlag{
		Name:     "log.format",
		Usage:    "Log format to use (terminal, logfmt, json)",
		Category: loggingCategory,
	}
	logJSONFlag = &cli.BoolFlag{
		Name:     "log.json",
		Usage:    "Format logs with JSON, same as --log.format json",
		Category: loggingCategory,
	}

	metricsAddrFlag = &cli.StringFlag{
		Name:     "metrics.addr",
		Usage:    "Listening address of the Prometheus metrics endpoint (disabled if empty)",
		Category: metricsCategory,
	}
)

var appFlags = []cli.Flag{
	configFileFlag,
	endpointFlag,
	queryFlag,
	bufferFlag,
	overflowFlag,
	retryFlag,
	retryRateFlag,
	verbosityFlag,
	logFormatFlag,
	logJSONFlag,
	metricsAddrFlag,
}
