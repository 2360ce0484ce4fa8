// qoslogctl inspects and maintains a qoslog store file.
//
// The store is opened directly, so qoslogd must not be running against
// the same file. With arguments a single command is run; on a terminal
// an interactive shell starts; otherwise commands are read from stdin.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	prompt "github.com/c-bata/go-prompt"
	"golang.org/x/term"

	"github.com/xtxerr/qoslog/internal/errors"
	"github.com/xtxerr/qoslog/internal/logging"
	"github.com/xtxerr/qoslog/internal/storage/config"
	"github.com/xtxerr/qoslog/internal/storage/samplestore"
)

func main() {
	cfgPath := flag.String("config", "qoslog.yaml", "config file path")
	dbPath := flag.String("db", "", "store file (overrides config)")
	flag.Parse()

	if err := run(*cfgPath, *dbPath, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "qoslogctl: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath, dbPath string, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		cfg = config.DefaultConfig()
	}
	if dbPath != "" {
		cfg.Store.Path = dbPath
	}

	// keep store chatter off the terminal
	logging.Init(slog.LevelWarn, false)

	ctx := context.Background()
	opts := cfg.StoreOptions()
	opts.Recreate = false
	store, err := samplestore.Open(ctx, opts)
	if err != nil {
		return err
	}
	defer store.Close()

	sh := newShell(ctx, cfg, store, os.Stdout)

	switch {
	case len(args) > 0:
		_, err := sh.exec(strings.Join(args, " "))
		return err
	case term.IsTerminal(int(os.Stdin.Fd())):
		interactive(sh, opts.Path)
		return nil
	default:
		return script(sh)
	}
}

// script runs one command per input line and stops at the first error.
func script(sh *shell) error {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		quit, err := sh.exec(sc.Text())
		if err != nil {
			return err
		}
		if quit {
			return nil
		}
	}
	return sc.Err()
}

func interactive(sh *shell, path string) {
	fmt.Fprintf(sh.out, "qoslogctl on %s, type help for commands\n", path)

	var quit bool
	executor := func(line string) {
		q, err := sh.exec(line)
		if err != nil {
			fmt.Fprintf(sh.out, "error: %v\n", err)
		}
		quit = q
	}
	p := prompt.New(executor, sh.complete,
		prompt.OptionTitle("qoslogctl"),
		prompt.OptionPrefix("qos> "),
		prompt.OptionMaxSuggestion(12),
		prompt.OptionSetExitCheckerOnInput(func(string, bool) bool { return quit }),
	)
	p.Run()
}
