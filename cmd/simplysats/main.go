package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/simplysats/simplysats"
	"github.com/simplysats/simplysats/build"
)

func main() {
	app := cli.NewApp()
	app.Name = "simplysats"
	app.Usage = "Non-custodial BSV wallet engine."
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "db",
			Usage: "path to the wallet database file",
		},
		cli.StringFlag{
			Name:  "explorerurl",
			Usage: "base URL of the block explorer API",
		},
		cli.StringFlag{
			Name:  "debuglevel",
			Usage: "logging level for all subsystems",
		},
		cli.StringFlag{
			Name:   "mnemonic",
			Usage:  "BIP-39 mnemonic unlocking the wallet",
			EnvVar: "SIMPLYSATS_MNEMONIC",
		},
		cli.StringFlag{
			Name:   "password",
			Usage:  "optional BIP-39 passphrase",
			EnvVar: "SIMPLYSATS_PASSWORD",
		},
	}
	app.Commands = []cli.Command{
		balanceCommand,
		syncCommand,
		sendCommand,
		lockCommand,
		unlockCommand,
		transferCommand,
		discoverCommand,
		deepLinkCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "[simplysats]", err)
		os.Exit(1)
	}
}

// loadConfig assembles the engine config from defaults and global flags.
func loadConfig(ctx *cli.Context) (*simplysats.Config, error) {
	cfg := simplysats.DefaultConfig()

	if db := ctx.GlobalString("db"); db != "" {
		cfg.DBPath = db
	}
	if u := ctx.GlobalString("explorerurl"); u != "" {
		cfg.ExplorerURL = u
	}
	if level := ctx.GlobalString("debuglevel"); level != "" {
		cfg.DebugLevel = level
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setupEngine initialises logging and opens the engine.
func setupEngine(ctx *cli.Context) (*simplysats.Engine, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}

	logWriter := build.NewRotatingLogWriter()
	simplysats.SetupLoggers(logWriter)
	if err := logWriter.InitLogRotator(cfg.LogFile(), 10, 3); err != nil {
		return nil, err
	}
	if err := logWriter.ParseAndSetDebugLevels(
		cfg.DebugLevel); err != nil {

		return nil, err
	}

	return simplysats.NewEngine(cfg)
}

// unlockedEngine opens the engine and unlocks it with the mnemonic flag.
func unlockedEngine(cliCtx *cli.Context) (*simplysats.Engine, error) {
	engine, err := setupEngine(cliCtx)
	if err != nil {
		return nil, err
	}

	mnemonic := cliCtx.GlobalString("mnemonic")
	if mnemonic == "" {
		engine.Close()
		return nil, fmt.Errorf("a mnemonic is required; set " +
			"--mnemonic or SIMPLYSATS_MNEMONIC")
	}

	err = engine.UnlockWallet(contextOf(cliCtx), mnemonic,
		cliCtx.GlobalString("password"))
	if err != nil {
		engine.Close()
		return nil, err
	}
	return engine, nil
}
