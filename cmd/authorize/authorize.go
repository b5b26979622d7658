// Package authorize provides the authorize-url command.
package authorize

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dco3go/dco3/cmd"
	"github.com/dco3go/dco3/dracoon"
	"github.com/spf13/cobra"
)

func init() {
	cmd.Root.AddCommand(commandDefinition)
}

var commandDefinition = &cobra.Command{
	Use:   "authorize-url",
	Short: `Print the URL which starts an authorization code login.`,
	Long: `Print the URL which starts an authorization code login.

Open the URL in a browser and log in. DRACOON then redirects to the
redirect URI with a code which can be turned into tokens with

    dco3 token --auth-code CODE
`,
	Run: func(command *cobra.Command, args []string) {
		cmd.CheckArgs(0, 0, command, args)
		cmd.Run(command, func() error {
			d, err := cmd.NewClient(context.Background())
			if err != nil {
				return err
			}
			return printURL(d, os.Stdout)
		})
	},
}

// printURL writes the authorize URL of d to out
func printURL(d *dracoon.Disconnected, out io.Writer) error {
	_, err := fmt.Fprintln(out, d.AuthorizeURL())
	return err
}
