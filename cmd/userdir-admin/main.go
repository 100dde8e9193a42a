// Package main is the entry point for the userdir admin CLI.
// This tool operates directly on the configured store for user management,
// and evaluates calculator operations.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/rs/zerolog"

	"github.com/prn-tf/userdir/internal/app"
	"github.com/prn-tf/userdir/internal/calculator"
	"github.com/prn-tf/userdir/internal/clock"
	"github.com/prn-tf/userdir/internal/config"
	"github.com/prn-tf/userdir/internal/logging"
	"github.com/prn-tf/userdir/internal/service"
	"github.com/prn-tf/userdir/internal/store/encrypted"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	var err error
	switch command {
	case "version":
		fmt.Printf("userdir Admin CLI\n")
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)

	case "user":
		err = runUser(context.Background(), os.Args[2:], os.Stdout)

	case "calc":
		err = runCalc(context.Background(), os.Args[2:], os.Stdout)

	case "keygen":
		err = runKeygen(os.Stdout)

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`userdir Admin CLI

Usage:
  userdir-admin <command> [arguments]

Commands:
  user        Manage users (create, get, search, list, update, delete, set-access)
  calc        Evaluate an operation or feed keys to a calculator
  keygen      Generate a store encryption key (USERDIR_STORE_ENCRYPTION_KEY)
  version     Print version information
  help        Show this help message

Examples:
  userdir-admin user create -dni 12345678A -name Ana -email ana@example.com
  userdir-admin user search -dni 12345678A
  userdir-admin user set-access -dni 12345678A -at "2024-01-31 09:30"
  userdir-admin user list -config ./configs/config.yaml
  userdir-admin calc add 2 3
  userdir-admin calc keys 1 2 multiply 3 equals

Configuration is read from config.yaml and USERDIR_* environment variables.`)
}

// =============================================================================
// User Commands
// =============================================================================

func runUser(ctx context.Context, args []string, out io.Writer) error {
	if len(args) < 1 {
		return fmt.Errorf("user: missing subcommand (create, get, search, list, update, delete, set-access)")
	}
	sub := args[0]

	fs := flag.NewFlagSet("user "+sub, flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file")
	dni := fs.String("dni", "", "user DNI")
	name := fs.String("name", "", "user name")
	email := fs.String("email", "", "user email")
	at := fs.String("at", "", "last access date (YYYY-MM-DD HH:MM or RFC 3339)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	a, closeApp, err := openApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer closeApp()

	users := a.Users
	switch sub {
	case "create":
		v, err := users.Create(ctx, service.CreateUserInput{DNI: *dni, Name: *name, Email: *email})
		if err != nil {
			return err
		}
		return printJSON(out, v)

	case "get":
		v, err := users.Get(ctx, *dni)
		if err != nil {
			return err
		}
		return printJSON(out, v)

	case "search":
		v, err := users.Search(ctx, *dni)
		if err != nil {
			return err
		}
		return printJSON(out, v)

	case "list":
		list, err := users.List(ctx)
		if err != nil {
			return err
		}
		return printUserTable(out, list)

	case "update":
		input := service.UpdateUserInput{DNI: *dni}
		if set["name"] {
			input.Name = name
		}
		if set["email"] {
			input.Email = email
		}
		v, err := users.Update(ctx, input)
		if err != nil {
			return err
		}
		return printJSON(out, v)

	case "delete":
		if err := users.Delete(ctx, *dni); err != nil {
			return err
		}
		fmt.Fprintf(out, "deleted %s\n", *dni)
		return nil

	case "set-access":
		v, err := users.SetLastAccess(ctx, *dni, *at)
		if err != nil {
			return err
		}
		return printJSON(out, v)

	default:
		return fmt.Errorf("user: unknown subcommand %q", sub)
	}
}

func openApp(ctx context.Context, configPath string) (*app.App, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	// Keep stdout for command output.
	if cfg.Logging.Output == "stdout" || cfg.Logging.Output == "" {
		cfg.Logging.Output = "stderr"
	}
	logger, closeLog, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Logging.Level == "info" {
		logger = logger.Level(zerolog.WarnLevel)
	}

	a, err := app.New(ctx, cfg, logger, nil)
	if err != nil {
		_ = closeLog()
		return nil, nil, err
	}
	return a, func() {
		_ = a.Close()
		_ = closeLog()
	}, nil
}

func printUserTable(out io.Writer, list *service.ListUsersOutput) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DNI\tNAME\tEMAIL\tLAST ACCESS\tSTATUS")
	for _, u := range list.Users {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", u.DNI, u.Name, u.Email, u.LastAccess.Format("2006-01-02 15:04:05"), u.Status)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d users, %d active\n", list.Total, list.Active)
	return nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// runKeygen prints a random hex master key for store.encryption_key.
func runKeygen(out io.Writer) error {
	key, err := encrypted.GenerateKey()
	if err != nil {
		return err
	}
	fmt.Fprintln(out, hex.EncodeToString(key))
	return nil
}

// =============================================================================
// Calculator Commands
// =============================================================================

func runCalc(ctx context.Context, args []string, out io.Writer) error {
	if len(args) < 1 {
		return fmt.Errorf("calc: usage: calc <operation> <operands...> | calc keys <keys...>")
	}

	svc := service.NewCalculatorService(calculator.DefaultTable(), service.DefaultSessionConfig(), clock.System{}, nil, zerolog.Nop())

	if args[0] == "keys" {
		st, err := svc.Press(ctx, service.NewSessionID(), args[1:]...)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, st.Display)
		for _, h := range st.History {
			fmt.Fprintf(out, "  %s\n", h)
		}
		return nil
	}

	operands := make([]float64, 0, len(args)-1)
	for _, a := range args[1:] {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return fmt.Errorf("calc: %w: %q", service.ErrInvalidInput, a)
		}
		operands = append(operands, v)
	}

	res, err := svc.Evaluate(ctx, service.EvaluateInput{Operation: args[0], Operands: operands})
	if err != nil {
		return err
	}
	fmt.Fprintln(out, res.Expression)
	return nil
}
