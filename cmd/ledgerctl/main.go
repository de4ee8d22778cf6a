// Command ledgerctl runs ledger maintenance against the configured database:
// rebuilds, integrity checks, period reports, CSV imports and token issuing.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/erp/stockledger/internal/infrastructure/config"
	"github.com/erp/stockledger/internal/infrastructure/logger"
	"go.uber.org/zap"
)

type command struct {
	name    string
	usage   string
	needsDB bool
	run     func(ctx context.Context, env *env, args []string) (any, error)
}

var commands = []command{
	{name: "rebuild", usage: "rebuild [-no-archive]", needsDB: true, run: runRebuild},
	{name: "check-orphans", usage: "check-orphans", needsDB: true, run: runCheckOrphans},
	{name: "check-product", usage: "check-product [-at 2024-01-31] <product-id>", needsDB: true, run: runCheckProduct},
	{name: "consistency", usage: "consistency", needsDB: true, run: runConsistency},
	{name: "report", usage: "report -open 2024-01-01 -close 2024-02-01 [-archive]", needsDB: true, run: runReport},
	{name: "import", usage: "import [-delimiter ,] <file.csv>", needsDB: true, run: runImport},
	{name: "token", usage: "token -subject <name> [-scopes ledger:write,ledger:admin] [-ttl 24h]", run: runToken},
}

func main() {
	var logLevel string
	flag.StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}

	var cmd *command
	for i := range commands {
		if commands[i].name == args[0] {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		printUsage()
		os.Exit(2)
	}

	log, err := logger.New(&logger.Config{Level: logLevel, Format: "console", Output: "stderr"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = log.Sync()
	}()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e := &env{cfg: cfg, log: log}
	if cmd.needsDB {
		if err := e.open(ctx); err != nil {
			log.Fatal("Failed to open ledger", zap.Error(err))
		}
		defer e.close()
	}

	out, err := cmd.run(ctx, e, args[1:])
	if err != nil {
		log.Error("Command failed", zap.String("command", cmd.name), zap.Error(err))
		e.close()
		os.Exit(1)
	}
	if out != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			log.Error("Failed to write output", zap.Error(err))
		}
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: ledgerctl [-log-level level] <command> [arguments]")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Commands:")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %s\n", c.usage)
	}
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Configuration is read from config.toml and LEDGER_* environment variables.")
}
