// Command ledgerctl runs operator tasks against the ledger database.
//
//	ledgerctl migrate
//	ledgerctl backfill-wallets
//	ledgerctl reconcile
//	ledgerctl create-admin -email ops@example.com -password ... -name Ops
//	ledgerctl audit
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/darshannathani/pp-sub001/internal/app"
	"github.com/darshannathani/pp-sub001/internal/config"
	"github.com/darshannathani/pp-sub001/internal/money"
	"github.com/darshannathani/pp-sub001/internal/models"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "ledgerctl:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: ledgerctl <migrate|backfill-wallets|reconcile|create-admin|audit> [flags]")
}

func run(args []string) error {
	if len(args) == 0 {
		usage()
		return fmt.Errorf("missing command")
	}
	cmd, rest := args[0], args[1:]

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "migrate", "backfill-wallets", "reconcile", "create-admin", "audit":
	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}

	// Open applies pending migrations.
	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	switch cmd {
	case "migrate":
		v, err := a.SchemaVersion(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("schema at version %d\n", v)
	case "backfill-wallets":
		created, err := a.Ledger.BackfillWallets(ctx, a.Users)
		if err != nil {
			return err
		}
		fmt.Printf("created %d wallets\n", created)
	case "reconcile":
		rep, err := a.Reconciler.Run(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("checked %d: completed %d, failed %d, still pending %d\n",
			rep.Checked, rep.Completed, rep.Failed, rep.Pending)
	case "create-admin":
		return createAdmin(ctx, a, rest)
	case "audit":
		total, err := a.Ledger.TotalBalance(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("sum of wallet balances: %s\n", money.Format(total))
	}
	return nil
}

func createAdmin(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("create-admin", flag.ContinueOnError)
	email := fs.String("email", "", "admin email")
	password := fs.String("password", "", "admin password")
	name := fs.String("name", "Admin", "display name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" || *password == "" {
		return fmt.Errorf("create-admin: -email and -password are required")
	}
	u, err := a.Auth.CreateUser(ctx, *email, *password, *name, models.OwnerAdmin)
	if err != nil {
		return err
	}
	fmt.Printf("created admin %s (%s)\n", u.ID, u.Email)
	return nil
}
