// Copyright 2024 The ember Authors
// This file is part of ember.
//
// ember is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// ember is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with ember. If not, see <http://www.gnu.org/licenses/>.

// ember is a development front-end for the client engine: it runs the
// engine over the in-memory backend, which is mainly useful for poking at
// mining and the observer APIs.
package main

import (
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/emberchain/ember/core"
	"github.com/emberchain/ember/core/memchain"
	"github.com/emberchain/ember/params"
)

var (
	dataDirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "Data directory for the version status record",
	}
	networkIDFlag = &cli.Uint64Flag{
		Name:  "networkid",
		Usage: "Network identifier announced to the host",
		Value: 1,
	}
	coinbaseFlag = &cli.StringFlag{
		Name:  "coinbase",
		Usage: "Recipient of locally sealed block rewards",
	}
	sentinelFlag = &cli.StringFlag{
		Name:  "sentinel",
		Usage: "Remote sink for bad block reports",
	}
	canaryFlag = &cli.StringFlag{
		Name:  "canary",
		Usage: "Address of the chain distress canary contract",
	}
	mineFlag = &cli.BoolFlag{
		Name:  "mine",
		Usage: "Seal blocks locally",
	}
	mineBadChainFlag = &cli.BoolFlag{
		Name:  "mine.badchain",
		Usage: "Keep mining after the canary fires",
	}
	forceMiningFlag = &cli.BoolFlag{
		Name:  "force-mining",
		Usage: "Commit candidates even without waiting transactions",
	}
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=detail",
		Value: 3,
	}
)

func main() {
	app := &cli.App{
		Name:    "ember",
		Usage:   "ember client engine development runner",
		Version: params.VersionWithMeta,
		Flags: []cli.Flag{
			dataDirFlag, networkIDFlag, coinbaseFlag, sentinelFlag, canaryFlag,
			mineFlag, mineBadChainFlag, forceMiningFlag, configFlag, verbosityFlag,
		},
		Action: run,
		Commands: []*cli.Command{
			{
				Name:   "dumpconfig",
				Usage:  "Print the effective configuration as TOML",
				Flags:  []cli.Flag{configFlag, dataDirFlag, coinbaseFlag, sentinelFlag, canaryFlag},
				Action: dumpConfig,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(ctx *cli.Context) (*core.Config, error) {
	cfg := &core.Config{}
	if path := ctx.String(configFlag.Name); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}
	if ctx.IsSet(dataDirFlag.Name) {
		cfg.DataDir = ctx.String(dataDirFlag.Name)
	}
	if ctx.IsSet(networkIDFlag.Name) || cfg.NetworkID == 0 {
		cfg.NetworkID = ctx.Uint64(networkIDFlag.Name)
	}
	if ctx.IsSet(coinbaseFlag.Name) {
		cfg.Coinbase = common.HexToAddress(ctx.String(coinbaseFlag.Name))
	}
	if ctx.IsSet(sentinelFlag.Name) {
		cfg.SentinelURL = ctx.String(sentinelFlag.Name)
	}
	if ctx.IsSet(canaryFlag.Name) {
		cfg.CanaryAddress = common.HexToAddress(ctx.String(canaryFlag.Name))
	}
	if ctx.IsSet(mineBadChainFlag.Name) {
		cfg.MineOnBadChain = ctx.Bool(mineBadChainFlag.Name)
	}
	if ctx.IsSet(forceMiningFlag.Name) {
		cfg.ForceMining = ctx.Bool(forceMiningFlag.Name)
	}
	return cfg, nil
}

func setupLogging(ctx *cli.Context) {
	handler := log.NewTerminalHandlerWithLevel(os.Stderr, log.FromLegacyLevel(ctx.Int(verbosityFlag.Name)), true)
	log.SetDefault(log.NewLogger(handler))
}

func run(ctx *cli.Context) error {
	setupLogging(ctx)
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	alloc := map[common.Address]*big.Int{}
	if cfg.Coinbase != (common.Address{}) {
		alloc[cfg.Coinbase] = new(big.Int).Mul(big.NewInt(1000), big.NewInt(1e18))
	}
	store, factory := memchain.New(big.NewInt(int64(cfg.NetworkID)), alloc)

	client, err := core.New(cfg, core.Trust, store, factory,
		core.NewTransactionQueue(big.NewInt(int64(cfg.NetworkID))), core.NewBlockQueue(), nil, nil)
	if err != nil {
		return err
	}
	client.Start()
	defer client.Stop()

	if ctx.Bool(mineFlag.Name) {
		client.StartMining()
	}
	log.Info("Client running", "genesis", store.GenesisHash(), "mining", client.IsMining())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("Shutting down")
	return nil
}

func dumpConfig(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if cfg.GasPrice == nil {
		cfg.GasPrice = core.DefaultGasPrice
	}
	return toml.NewEncoder(os.Stdout).Encode(cfg)
}
