package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/wallchat/internal/config"
	"github.com/matheus3301/wallchat/internal/daemon"
	"github.com/matheus3301/wallchat/internal/session"
	"go.uber.org/fx"
)

func main() {
	accountFlag := flag.String("account", "", "account name (overrides config default)")
	configFlag := flag.String("config", "", "config file (default ~/.wallchat/config.toml)")
	flag.Parse()

	account := session.Resolve(*accountFlag)
	if err := session.ValidateName(account); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	path := *configFlag
	if path == "" {
		path = session.ConfigPath()
	}
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error: no config at %s; create it with api_base_url, push_url and user_id\n", path)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid config:\n%v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{Account: account, Config: cfg}),
	)

	app.Run()
}
