package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/urfave/cli"

	"github.com/simplysats/simplysats/walletdb"
)

// contextOf returns the command context; urfave/cli v1 has none, so this is
// the process context.
func contextOf(_ *cli.Context) context.Context {
	return context.Background()
}

func printJSON(v interface{}) {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "[simplysats]", err)
		return
	}
	fmt.Println(string(encoded))
}

var balanceCommand = cli.Command{
	Name:   "balance",
	Usage:  "Show the active account's balances per basket.",
	Action: balance,
}

func balance(cliCtx *cli.Context) error {
	engine, err := setupEngine(cliCtx)
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx := contextOf(cliCtx)
	account, err := engine.DB().GetActiveAccount(ctx)
	if err != nil {
		return err
	}
	accountID := int64(walletdb.DefaultAccountID)
	if account != nil {
		accountID = account.ID
	}

	spendable, err := engine.DB().Balance(ctx, accountID)
	if err != nil {
		return err
	}
	baskets, err := engine.DB().BasketBalances(ctx, accountID)
	if err != nil {
		return err
	}

	printJSON(struct {
		Spendable int64                      `json:"spendable"`
		Baskets   map[walletdb.Basket]int64 `json:"baskets"`
	}{Spendable: spendable, Baskets: baskets})
	return nil
}

var syncCommand = cli.Command{
	Name:   "sync",
	Usage:  "Reconcile the active account against the chain.",
	Action: sync,
}

func sync(cliCtx *cli.Context) error {
	engine, err := unlockedEngine(cliCtx)
	if err != nil {
		return err
	}
	defer engine.Close()

	return engine.Sync(contextOf(cliCtx))
}

var sendCommand = cli.Command{
	Name:      "send",
	Usage:     "Send satoshis to a P2PKH address.",
	ArgsUsage: "address amount",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "description",
			Usage: "memo stored with the transaction",
		},
	},
	Action: send,
}

func send(cliCtx *cli.Context) error {
	args := cliCtx.Args()
	if len(args) != 2 {
		return cli.ShowCommandHelp(cliCtx, "send")
	}

	amount, err := strconv.ParseInt(args.Get(1), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid amount: %v", err)
	}

	engine, err := unlockedEngine(cliCtx)
	if err != nil {
		return err
	}
	defer engine.Close()

	result, err := engine.Send(contextOf(cliCtx), args.Get(0), amount,
		cliCtx.String("description"))
	if err != nil {
		return err
	}

	printJSON(result)
	return nil
}

var lockCommand = cli.Command{
	Name:      "lock",
	Usage:     "Lock satoshis until a block height.",
	ArgsUsage: "amount unlock-block",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "origin",
			Usage: "ordinal origin carried in the data output",
		},
	},
	Action: lock,
}

func lock(cliCtx *cli.Context) error {
	args := cliCtx.Args()
	if len(args) != 2 {
		return cli.ShowCommandHelp(cliCtx, "lock")
	}

	amount, err := strconv.ParseInt(args.Get(0), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid amount: %v", err)
	}
	unlockBlock, err := strconv.ParseInt(args.Get(1), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid unlock block: %v", err)
	}

	engine, err := unlockedEngine(cliCtx)
	if err != nil {
		return err
	}
	defer engine.Close()

	result, err := engine.CreateLock(contextOf(cliCtx), amount,
		unlockBlock, cliCtx.String("origin"))
	if err != nil {
		return err
	}

	printJSON(result)
	return nil
}

var unlockCommand = cli.Command{
	Name:      "unlock",
	Usage:     "Spend a matured lock back to the wallet.",
	ArgsUsage: "txid vout",
	Action:    unlock,
}

func unlock(cliCtx *cli.Context) error {
	args := cliCtx.Args()
	if len(args) != 2 {
		return cli.ShowCommandHelp(cliCtx, "unlock")
	}

	vout, err := strconv.ParseUint(args.Get(1), 10, 32)
	if err != nil {
		return fmt.Errorf("invalid vout: %v", err)
	}

	engine, err := unlockedEngine(cliCtx)
	if err != nil {
		return err
	}
	defer engine.Close()

	result, err := engine.SpendLock(contextOf(cliCtx),
		walletdb.Outpoint{
			Txid: args.Get(0),
			Vout: uint32(vout),
		})
	if err != nil {
		return err
	}

	printJSON(result)
	return nil
}

var transferCommand = cli.Command{
	Name:      "transfer",
	Usage:     "Transfer a 1-sat ordinal to a new owner.",
	ArgsUsage: "txid vout address",
	Action:    transfer,
}

func transfer(cliCtx *cli.Context) error {
	args := cliCtx.Args()
	if len(args) != 3 {
		return cli.ShowCommandHelp(cliCtx, "transfer")
	}

	vout, err := strconv.ParseUint(args.Get(1), 10, 32)
	if err != nil {
		return fmt.Errorf("invalid vout: %v", err)
	}

	engine, err := unlockedEngine(cliCtx)
	if err != nil {
		return err
	}
	defer engine.Close()

	result, err := engine.TransferOrdinal(contextOf(cliCtx),
		walletdb.Outpoint{
			Txid: args.Get(0),
			Vout: uint32(vout),
		}, args.Get(2))
	if err != nil {
		return err
	}

	printJSON(result)
	return nil
}

var discoverCommand = cli.Command{
	Name:   "discover",
	Usage:  "Walk derivation indices for accounts with history.",
	Action: discover,
}

func discover(cliCtx *cli.Context) error {
	engine, err := unlockedEngine(cliCtx)
	if err != nil {
		return err
	}
	defer engine.Close()

	found, err := engine.Discover(contextOf(cliCtx),
		cliCtx.GlobalString("mnemonic"),
		cliCtx.GlobalString("password"))
	if err != nil {
		return err
	}

	fmt.Printf("discovered %d account(s)\n", found)
	return nil
}

var deepLinkCommand = cli.Command{
	Name:      "deeplink",
	Usage:     "Execute a simplysats:// deep link.",
	ArgsUsage: "uri",
	Action:    deepLink,
}

func deepLink(cliCtx *cli.Context) error {
	args := cliCtx.Args()
	if len(args) != 1 {
		return cli.ShowCommandHelp(cliCtx, "deeplink")
	}

	engine, err := unlockedEngine(cliCtx)
	if err != nil {
		return err
	}
	defer engine.Close()

	result, err := engine.HandleDeepLink(contextOf(cliCtx),
		args.Get(0))
	if err != nil {
		return err
	}

	fmt.Println(result)
	return nil
}
