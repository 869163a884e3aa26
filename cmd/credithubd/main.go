// Copyright 2025 The credithub Authors
// This file is part of credithub.
//
// credithub is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// credithub is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with credithub. If not, see <http://www.gnu.org/licenses/>.

// credithubd is the mutual credit hub daemon.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/commongrid/credithub/config"
	"github.com/commongrid/credithub/node"
)

var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	devFlag = &cli.BoolFlag{
		Name:  "dev",
		Usage: "run with an in-memory ledger and debug logging",
	}
	httpAddrFlag = &cli.StringFlag{
		Name:  "http.addr",
		Usage: "HTTP listen address (overrides config)",
	}
	dsnFlag = &cli.StringFlag{
		Name:    "db.dsn",
		Usage:   "PostgreSQL connection string (overrides config)",
		EnvVars: []string{"CREDITHUB_DB_DSN"},
	}
	jwtSecretFlag = &cli.StringFlag{
		Name:    "jwt.secret",
		Usage:   "HMAC secret for session tokens (overrides config)",
		EnvVars: []string{"CREDITHUB_JWT_SECRET"},
	}
)

func main() {
	app := &cli.App{
		Name:   "credithubd",
		Usage:  "mutual credit network hub",
		Flags:  []cli.Flag{configFlag, devFlag, httpAddrFlag, dsnFlag, jwtSecretFlag},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	cfg := config.Defaults()
	if path := ctx.String(configFlag.Name); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return err
		}
	}
	if addr := ctx.String(httpAddrFlag.Name); addr != "" {
		cfg.Server.HTTPAddr = addr
	}
	if dsn := ctx.String(dsnFlag.Name); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if secret := ctx.String(jwtSecretFlag.Name); secret != "" {
		cfg.Server.JWTSecret = secret
	}

	dev := ctx.Bool(devFlag.Name)
	if dev {
		cfg.Database.DSN = ""
	}
	if cfg.Database.DSN != "" && cfg.Server.JWTSecret == "" {
		return fmt.Errorf("jwt secret is required outside --dev mode")
	}
	if cfg.Server.JWTSecret == "" {
		cfg.Server.JWTSecret = "credithub-dev-secret"
	}

	log, err := newLogger(dev)
	if err != nil {
		return err
	}
	defer log.Sync()

	n, err := node.New(ctx.Context, cfg, log)
	if err != nil {
		return err
	}
	if err := n.Start(ctx.Context); err != nil {
		return err
	}
	log.Info("hub started", zap.String("http", cfg.Server.HTTPAddr), zap.Bool("dev", dev))

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigc
	log.Info("shutting down", zap.String("signal", sig.String()))

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return n.Stop(stopCtx)
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
