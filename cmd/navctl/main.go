// Command navctl runs NAV engine operations from the shell: catalogue sync,
// ingestion runs, portfolio valuation and scheme history. It opens the same
// store and provider as the server, from the same config.
package main

import (
	"context"
	"flag"
	"os"
	"path"
	"strings"

	"github.com/google/subcommands"
)

type configPaths []string

func (p *configPaths) String() string { return strings.Join(*p, ",") }

func (p *configPaths) Set(v string) error {
	*p = append(*p, v)
	return nil
}

var configFiles configPaths

func main() {
	flag.Var(&configFiles, "config", "TOML config file (repeatable)")

	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")

	commander.Register(&syncCmd{}, "catalogue")
	commander.Register(&historyCmd{}, "catalogue")

	commander.Register(&refreshCmd{}, "ingestion")
	commander.Register(&manualCmd{}, "ingestion")

	commander.Register(&valueCmd{}, "portfolio")
	commander.Register(&tokenCmd{}, "auth")

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
