// Package main manages the encrypted wallet keystore used by the sniper.
//
// Usage:
//
//	wallet [-keystore wallets.json] list [-balances]
//	wallet add <base58 | json array | ->
//	wallet generate
//	wallet remove <public key>
//
// The passphrase is read from PUMPSNIPER_KEYSTORE_PASSPHRASE.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"pumpsniper/internal/accounts"
	"pumpsniper/internal/config"
	"pumpsniper/internal/solana"
)

func main() {
	_ = godotenv.Load()

	keystorePath := flag.String("keystore", envOrDefault("PUMPSNIPER_KEYSTORE", "wallets.json"), "Path to the encrypted wallet keystore")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	ks, err := accounts.OpenKeystore(accounts.KeystoreOptions{
		Path:       *keystorePath,
		Passphrase: os.Getenv("PUMPSNIPER_KEYSTORE_PASSPHRASE"),
	})
	if err != nil {
		fatal(err)
	}

	ctx := context.Background()
	args := flag.Args()[1:]
	switch cmd := flag.Arg(0); cmd {
	case "list":
		err = list(ctx, ks, args)
	case "add":
		err = add(ctx, ks, args)
	case "generate":
		var pub string
		if pub, err = ks.Generate(ctx); err == nil {
			fmt.Println(pub)
		}
	case "remove":
		if len(args) != 1 {
			err = errors.New("remove takes exactly one public key")
			break
		}
		err = ks.Remove(ctx, args[0])
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		fatal(err)
	}
}

func list(ctx context.Context, ks *accounts.Keystore, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	balances := fs.Bool("balances", false, "Fetch SOL balances over RPC")
	configPath := fs.String("config", envOrDefault("PUMPSNIPER_CONFIG", "config.yaml"), "config.yaml providing the RPC endpoint")
	if err := fs.Parse(args); err != nil {
		return err
	}

	wallets, err := ks.Wallets(ctx)
	if err != nil {
		return err
	}

	var rpc solana.RPCClient
	if *balances {
		cfg, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		if err := config.ApplyEnv(cfg, os.LookupEnv); err != nil {
			return err
		}
		rpc = solana.NewHTTPClient(cfg.RPC.HTTPEndpoint)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PUBLIC KEY\tADDED\tBALANCE (SOL)")
	for _, w := range wallets {
		bal := "-"
		if rpc != nil {
			lamports, err := rpc.GetBalance(ctx, w.PublicKey)
			if err != nil {
				bal = "error: " + err.Error()
			} else {
				bal = decimal.New(int64(lamports), -9).String()
			}
		}
		added := time.UnixMilli(w.AddedAt).UTC().Format(time.RFC3339)
		fmt.Fprintf(tw, "%s\t%s\t%s\n", w.PublicKey, added, bal)
	}
	return tw.Flush()
}

// add imports one key given as an argument, or read from stdin when the
// argument is "-".
func add(ctx context.Context, ks *accounts.Keystore, args []string) error {
	if len(args) != 1 {
		return errors.New("add takes exactly one private key (or - for stdin)")
	}
	secret := args[0]
	if secret == "-" {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read stdin: %w", err)
		}
		secret = strings.TrimSpace(line)
	}
	pub, err := ks.Add(ctx, secret)
	if err != nil {
		return err
	}
	fmt.Println(pub)
	return nil
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: wallet [flags] <command> [args]

Commands:
  list [-balances]    list stored wallets
  add <key | ->       import a base58 or JSON-array private key
  generate            create a new random wallet
  remove <pubkey>     delete a wallet

Flags:
`)
	flag.PrintDefaults()
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "wallet: %v\n", err)
	os.Exit(1)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
