// Package token provides the token command.
package token

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dco3go/dco3/cmd"
	"github.com/dco3go/dco3/dracoon"
	"github.com/dco3go/dco3/fs"
	"github.com/dco3go/dco3/fs/config/flags"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
)

// Options choose the OAuth2 flow
type Options struct {
	AuthCode     string
	Username     string
	Password     string
	RefreshToken string
}

var (
	opt    Options
	save   bool
	revoke bool
)

func init() {
	cmd.Root.AddCommand(commandDefinition)
	cmdFlags := commandDefinition.Flags()
	flags.StringVarP(cmdFlags, &opt.AuthCode, "auth-code", "", "", "Code from the authorize-url redirect", "")
	flags.StringVarP(cmdFlags, &opt.Username, "username", "", "", "User name for the password flow", "")
	flags.StringVarP(cmdFlags, &opt.Password, "password", "", "", "Password for the password flow", "")
	flags.StringVarP(cmdFlags, &opt.RefreshToken, "refresh-token", "", "", "Refresh token to exchange", "")
	flags.BoolVarP(cmdFlags, &save, "save", "", false, "Save the refresh token in the config file profile", "")
	flags.BoolVarP(cmdFlags, &revoke, "revoke", "", false, "Revoke both tokens instead of printing them", "")
}

var commandDefinition = &cobra.Command{
	Use:   "token",
	Short: `Log in and print the refresh token.`,
	Long: `Log in with one of the OAuth2 flows and print the refresh token.

Give exactly one of --auth-code, --username with --password, or
--refresh-token. With none the refresh token from the config is used.

Use --save to store the refresh token in the config file so other
commands can log in without asking. Use --revoke to log out, revoking
the access and refresh tokens on the server.`,
	Run: func(command *cobra.Command, args []string) {
		cmd.CheckArgs(0, 0, command, args)
		cmd.Run(command, func() error {
			flow, err := Flow(opt)
			if err != nil {
				return err
			}
			ctx := context.Background()
			s, err := cmd.Connect(ctx, flow)
			if err != nil {
				return err
			}
			if revoke {
				_, err = s.DisconnectWith(ctx, true, true)
				return err
			}
			return printAndSave(ctx, s, os.Stdout)
		})
	},
}

// Flow picks the OAuth2 flow from opt. It returns nil if none was
// asked for.
func Flow(opt Options) (dracoon.OAuth2Flow, error) {
	given := 0
	for _, v := range []string{opt.AuthCode, opt.Username, opt.RefreshToken} {
		if v != "" {
			given++
		}
	}
	if given > 1 {
		return nil, errors.New("only one of --auth-code, --username and --refresh-token can be used")
	}
	switch {
	case opt.AuthCode != "":
		return dracoon.AuthCodeFlow(opt.AuthCode), nil
	case opt.Username != "":
		if opt.Password == "" {
			return nil, errors.New("--username needs --password")
		}
		return dracoon.PasswordFlow(opt.Username, opt.Password), nil
	case opt.RefreshToken != "":
		return dracoon.RefreshTokenFlow(opt.RefreshToken), nil
	case opt.Password != "":
		return nil, errors.New("--password needs --username")
	}
	return nil, nil
}

// printAndSave prints the token of s, saves it if asked and then
// disconnects, revoking the access token only
func printAndSave(ctx context.Context, s *dracoon.Connected, out io.Writer) error {
	tok, err := s.Token()
	if err != nil {
		return err
	}
	if err = writeToken(out, tok); err != nil {
		return err
	}
	if save {
		path, err := cmd.SaveConfigValue(cmd.RefreshTokenKey, tok.RefreshToken)
		if err != nil {
			return errors.Wrap(err, "failed to save refresh token")
		}
		fs.Infof(nil, "Saved refresh token to %q", path)
	}
	_, err = s.Disconnect(ctx)
	return err
}

// writeToken prints the parts of tok worth keeping
func writeToken(out io.Writer, tok *oauth2.Token) error {
	_, err := fmt.Fprintf(out, "refresh_token: %s\naccess_expires: %s\n", tok.RefreshToken, tok.Expiry.UTC().Format(time.RFC3339))
	return err
}
