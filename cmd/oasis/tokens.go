package main

import (
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/adeilh/oasis/result"
)

func newValidateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <token>",
		Short: "Validate a token against the active validation provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client(quiet(opts))
			if err != nil {
				return err
			}
			defer c.Close()

			return result.Match(c.ValidateToken(cmd.Context(), args[0]),
				func(struct{}) error {
					cmd.Println("valid")
					return nil
				},
				func(err error) error { return err },
			)
		},
	}
}

func newExchangeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "exchange <token> <audience>",
		Short: "Exchange a token for an on-behalf-of token",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client(quiet(opts))
			if err != nil {
				return err
			}
			defer c.Close()

			token, err := c.RequestOboToken(cmd.Context(), args[0], args[1]).Unwrap()
			if err != nil {
				return err
			}
			cmd.Println(token)
			return nil
		},
	}
}

// quiet keeps one-shot commands silent unless verbosity was asked for.
func quiet(opts *rootOptions) logr.Logger {
	if opts.verbosity == 0 {
		return logr.Discard()
	}
	return opts.logger()
}
