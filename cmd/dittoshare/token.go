package main

import (
	"fmt"

	"github.com/marmos91/dittoshare/pkg/authority"
	"github.com/spf13/cobra"
)

func newTokenCommand(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint a token for a user of the configured authority",
		Long: `Mint a token signed with services.authority.secret for a user listed in
services.authority.users. Meant for development and testing:

	curl -H "Authorization: Bearer $(dittoshare token demo)" localhost:5002/api/files
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			a, err := authority.New(cfg.Services.Authority.Config)
			if err != nil {
				return err
			}

			token, err := a.Mint(args[0])
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}
