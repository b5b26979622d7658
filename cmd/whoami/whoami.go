// Package whoami provides the whoami command.
package whoami

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dco3go/dco3/cmd"
	"github.com/dco3go/dco3/dracoon/api"
	"github.com/spf13/cobra"
)

func init() {
	cmd.Root.AddCommand(commandDefinition)
}

var commandDefinition = &cobra.Command{
	Use:   "whoami",
	Short: `Show the user the saved refresh token logs in as.`,
	Long: `Log in with the refresh token from the config and show the user
account. If an encryption password is configured the user key pair is
unlocked too, which checks the password.`,
	Run: func(command *cobra.Command, args []string) {
		cmd.CheckArgs(0, 0, command, args)
		cmd.Run(command, func() (err error) {
			ctx := context.Background()
			s, err := cmd.Connect(ctx, nil)
			if err != nil {
				return err
			}
			defer func() {
				if _, dErr := s.DisconnectWith(ctx, false, false); err == nil {
					err = dErr
				}
			}()
			account, err := s.GetUserAccount(ctx)
			if err != nil {
				return err
			}
			_, keyErr := s.Keypair()
			return printAccount(os.Stdout, account, keyErr == nil)
		})
	},
}

// printAccount writes a summary of account to out
func printAccount(out io.Writer, account *api.UserAccount, unlocked bool) error {
	keys := "no key pair unlocked"
	if unlocked {
		keys = "key pair unlocked"
	}
	_, err := fmt.Fprintf(out, "%s (%s %s) id %d, encryption enabled: %v, %s\n",
		account.UserName, account.FirstName, account.LastName, account.ID, account.IsEncryptionEnabled, keys)
	return err
}

