package main

import (
	"log"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/spf13/cobra"

	"github.com/adeilh/oasis"
	"github.com/adeilh/oasis/config"
)

var BuildVersion = "dev"

type rootOptions struct {
	configPath string
	verbosity  int
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "oasis",
		Short:         "Token validation and on-behalf-of exchange",
		Long:          "Validate bearer tokens and exchange them for on-behalf-of tokens using the identity provider configured in the environment or a YAML file.",
		SilenceUsage:  true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML configuration file. Environment variables are used when empty.")
	cmd.PersistentFlags().IntVarP(&opts.verbosity, "verbosity", "v", 0, "Log verbosity; 1 logs cache hits and key set refreshes.")

	cmd.AddCommand(
		newServeCommand(opts),
		newValidateCommand(opts),
		newExchangeCommand(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				cmd.Printf("%s\n", BuildVersion)
			},
		},
	)
	return cmd
}

func (o *rootOptions) logger() logr.Logger {
	stdr.SetVerbosity(o.verbosity)
	return stdr.New(log.New(os.Stderr, "", log.LstdFlags)).WithName("oasis")
}

func (o *rootOptions) load() (config.Config, error) {
	if o.configPath != "" {
		return config.FromFile(o.configPath)
	}
	return config.FromEnv(nil)
}

func (o *rootOptions) client(log logr.Logger, extra ...oasis.Option) (*oasis.Client, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, err
	}
	return oasis.New(cfg, append([]oasis.Option{oasis.WithLogger(log)}, extra...)...)
}
