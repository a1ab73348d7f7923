// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command philia-icqq bridges a QQ account, driven by an ICQQ client
// sidecar, to the Philia unified messaging protocol. Login challenges are
// handed to an operator on the terminal or through the admin HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"go.mau.fi/util/exzerolog"
	flag "maunium.net/go/mauflag"

	"github.com/aiku/philia-icqq/pkg/connector"
	"github.com/aiku/philia-icqq/pkg/icqq/sidecar"
	"github.com/aiku/philia-icqq/pkg/philia"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const (
	dialAttempts = 5
	stopTimeout  = 10 * time.Second
)

var (
	configPath      = flag.MakeFull("c", "config", "The path to your config file.", "config.yaml").String()
	envFile         = flag.MakeFull("e", "env-file", "A .env file with ICQQ_ overrides.", ".env").String()
	generateExample = flag.MakeFull("g", "generate-config", "Write the example config to the config path and quit.", "false").Bool()
	version         = flag.MakeFull("v", "version", "View version and quit.", "false").Bool()
	wantHelp, _     = flag.MakeHelpFlag()
)

func main() {
	flag.SetHelpTitles(
		"philia-icqq - A bridge between ICQQ and the Philia protocol.",
		"philia-icqq [-hgv] [-c <path>] [-e <path>]",
	)
	if err := flag.Parse(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.PrintHelp()
		os.Exit(1)
	} else if *wantHelp {
		flag.PrintHelp()
		os.Exit(0)
	} else if *version {
		fmt.Printf("philia-icqq %s (commit %s, built %s)\n", Tag, Commit, BuildTime)
		os.Exit(0)
	} else if *generateExample {
		if err := os.WriteFile(*configPath, []byte(connector.ExampleConfig), 0o600); err != nil {
			fmt.Fprintln(os.Stderr, "Failed to write example config:", err)
			os.Exit(1)
		}
		fmt.Println("Wrote example config to", *configPath)
		os.Exit(0)
	}

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}

func run() error {
	cfg, err := connector.LoadConfig(*configPath, *envFile)
	if err != nil {
		return err
	}
	log, err := cfg.Logging.Compile()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	exzerolog.SetupDefaults(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.WithContext(ctx)

	client, err := dialSidecar(ctx, &cfg.Network, *log)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	var operator connector.Operator
	if cfg.Network.Operator == connector.OperatorAPI {
		operator = connector.NewAPIOperator(*log)
	} else {
		operator = connector.NewTerminalOperator(os.Stdin, os.Stdout, cfg.Network.DataDir, *log)
	}
	bridge := connector.NewBridge(&cfg.Network, client, philia.NewLogEndpoint(*log), operator, *log)
	if err := bridge.Start(ctx); err != nil {
		return err
	}
	log.Info().Str("version", Tag).Int64("uin", cfg.Network.UIN).Msg("Bridge started")

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := bridge.Stop(stopCtx); err != nil {
		log.Warn().Err(err).Msg("Bridge did not stop cleanly")
	}
	return nil
}

// dialSidecar connects to the ICQQ sidecar, retrying with exponential
// backoff while it starts up.
func dialSidecar(ctx context.Context, cfg *connector.Config, log zerolog.Logger) (*sidecar.Client, error) {
	opts := sidecar.Options{
		URL:      cfg.SidecarURL,
		UIN:      cfg.UIN,
		Password: cfg.Password,
		Platform: cfg.Platform,
		DataDir:  cfg.DataDir,
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), dialAttempts-1), ctx)
	client, err := backoff.RetryNotifyWithData(func() (*sidecar.Client, error) {
		return sidecar.Dial(ctx, opts, log)
	}, b, func(err error, next time.Duration) {
		log.Warn().Err(err).Dur("retry_in", next).Msg("Sidecar not reachable")
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to sidecar at %s: %w", cfg.SidecarURL, err)
	}
	return client, nil
}
