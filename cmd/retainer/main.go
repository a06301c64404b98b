// Command retainer runs the daily billing job over a portfolio file: it
// lists the clients due for an invoice, previews their drafts and commits
// them. Drafts are written to stdout as JSON for the invoicing system.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/xraph/retainer"
	"github.com/xraph/retainer/invoice"
	"github.com/xraph/retainer/store/memory"
)

var errUsage = errors.New("usage")

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			printUsage()
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "retainer: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("retainer", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var (
		configPath string
		asOfFlag   string
	)
	fs.StringVar(&configPath, "config", "", "Path to the portfolio config (default: ./retainer.yaml)")
	fs.StringVar(&asOfFlag, "as-of", "", "Billing date YYYY-MM-DD (default: today)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() == 0 {
		return errUsage
	}
	command, clients := fs.Arg(0), fs.Args()[1:]

	asOf, err := parseAsOf(asOfFlag, time.Now())
	if err != nil {
		return err
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	log, err := newLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	opts := []retainer.Option{
		retainer.WithLogger(newSlogLogger(log)),
		retainer.WithClock(func() time.Time { return asOf }),
	}
	if cfg.LaborTax == "shared_base" {
		opts = append(opts, retainer.WithLaborTaxPolicy(retainer.SharedBaseRate))
	}
	eng := retainer.New(memory.New(), opts...)
	if err := eng.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = eng.Stop() }()

	if err := loadPortfolio(ctx, eng, cfg.Contracts); err != nil {
		return err
	}
	log.Info("portfolio loaded",
		zap.Int("contracts", len(cfg.Contracts)),
		zap.String("as_of", asOf.Format(time.DateOnly)),
	)

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")

	switch command {
	case "due":
		due, err := eng.DueContracts(ctx, asOf)
		if err != nil {
			return err
		}
		if due == nil {
			due = []string{}
		}
		return enc.Encode(due)

	case "preview":
		if len(clients) == 0 {
			if clients, err = eng.DueContracts(ctx, asOf); err != nil {
				return err
			}
		}
		drafts := make([]*invoice.Draft, 0, len(clients))
		for _, clientID := range clients {
			d, err := eng.PreviewInvoice(ctx, clientID)
			if err != nil {
				return fmt.Errorf("preview %s: %w", clientID, err)
			}
			drafts = append(drafts, d)
		}
		return enc.Encode(drafts)

	case "commit":
		due, err := eng.DueContracts(ctx, asOf)
		if err != nil {
			return err
		}
		drafts := make([]*invoice.Draft, 0, len(due))
		var failed int
		for _, clientID := range due {
			d, err := eng.CommitInvoice(ctx, clientID)
			switch {
			case errors.Is(err, retainer.ErrNoUsageForPeriod):
				log.Info("nothing to bill", zap.String("client_id", clientID))
				continue
			case err != nil:
				failed++
				log.Error("commit failed", zap.String("client_id", clientID), zap.Error(err))
				continue
			}
			drafts = append(drafts, d)
		}
		if err := enc.Encode(drafts); err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d commits failed", failed, len(due))
		}
		return nil

	default:
		return errUsage
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Retainer billing job

Usage:
  retainer [flags] <command> [clients...]

Commands:
  due                   List clients whose invoice date has been reached
  preview [clients...]  Print drafts without committing (default: all due)
  commit                Commit every due client and print the drafts

Flags:
  -config string        Portfolio config file (default: ./retainer.yaml)
  -as-of string         Billing date YYYY-MM-DD (default: today)

Environment Variables:
  RETAINER_LOG_LEVEL, RETAINER_LOG_FORMAT, RETAINER_LOG_OUTPUT, RETAINER_LABOR_TAX`)
}
