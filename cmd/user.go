package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Donghyun-Son/srtgo/internal/auth"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage operator accounts",
	}
	cmd.AddCommand(newUserAddCmd())
	return cmd
}

func newUserAddCmd() *cobra.Command {
	var username, password string

	c := &cobra.Command{
		Use:   "add",
		Short: "Add an account (username/password)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if password == "" {
				if password, err = readSecret(cmd.InOrStdin(), cmd.ErrOrStderr(), "password: "); err != nil {
					return err
				}
			}
			ctx := context.Background()
			d, err := openDB(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer d.Close()

			id, err := auth.NewUsers(d).Create(ctx, username, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "created user %q id=%d\n", username, id)
			return nil
		},
	}

	c.Flags().StringVar(&username, "username", "", "username")
	c.Flags().StringVar(&password, "password", "", "password; read from stdin when omitted")
	_ = c.MarkFlagRequired("username")
	return c
}
