package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"llamagate/internal/auth"
)

// newTokenCmd groups the access-token administration commands.
func newTokenCmd() *cobra.Command {
	var tokensFile string

	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Manage access tokens",
	}
	tokenCmd.PersistentFlags().StringVar(&tokensFile, "tokens-file", "./tokens.json", "path to the token store file")

	var note string
	var models []string
	create := &cobra.Command{
		Use:   "create",
		Short: "Mint a new access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(models) == 0 {
				return fmt.Errorf("at least one --models entry is required")
			}
			store := auth.LoadStore(tokensFile)
			token, err := store.Create(note, models)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	create.Flags().StringVar(&note, "note", "", "description of the token holder")
	create.Flags().StringSliceVar(&models, "models", nil, "model names the token grants access to")

	list := &cobra.Command{
		Use:   "list",
		Short: "List issued tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := auth.LoadStore(tokensFile)
			for _, entry := range store.List() {
				fmt.Printf("%s  %-24s  %s  %s\n",
					entry.Token,
					entry.Note,
					entry.CreatedAt.Format("2006-01-02 15:04"),
					strings.Join(entry.Models, ","),
				)
			}
			return nil
		},
	}

	revoke := &cobra.Command{
		Use:   "revoke <token>",
		Short: "Revoke an access token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := auth.LoadStore(tokensFile)
			ok, err := store.Revoke(args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("token not found")
			}
			fmt.Println("revoked")
			return nil
		},
	}

	tokenCmd.AddCommand(create, list, revoke)
	return tokenCmd
}
