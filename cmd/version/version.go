// Package version provides the version command.
package version

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/dco3go/dco3/cmd"
	"github.com/dco3go/dco3/dracoon"
	"github.com/dco3go/dco3/fs"
	"github.com/dco3go/dco3/fs/config/flags"
	"github.com/spf13/cobra"
)

var (
	check = false
)

func init() {
	cmd.Root.AddCommand(commandDefinition)
	cmdFlags := commandDefinition.Flags()
	flags.BoolVarP(cmdFlags, &check, "check", "", false, "Also show the version of the configured DRACOON instance", "")
}

var commandDefinition = &cobra.Command{
	Use:   "version",
	Short: `Show the version number.`,
	Long: `Show the dco3 version number, the go version and the build target
OS and architecture.

For example:

    $ dco3 version
    dco3 v0.4.0
    - os/type: linux
    - os/arch: amd64
    - go/version: go1.22.4

With --check the version of the configured DRACOON instance is shown
too.

    $ dco3 version --check
    ...
    - server/api: 4.42.0
`,
	Run: func(command *cobra.Command, args []string) {
		cmd.CheckArgs(0, 0, command, args)
		cmd.Run(command, func() error {
			ShowVersion(os.Stdout)
			if !check {
				return nil
			}
			ctx := context.Background()
			d, err := cmd.NewClient(ctx)
			if err != nil {
				return err
			}
			return ShowServerVersion(ctx, d.Public(), os.Stdout)
		})
	},
}

// ShowVersion prints the version to out
func ShowVersion(out io.Writer) {
	goVersion := runtime.Version()
	if info, ok := debug.ReadBuildInfo(); ok && info.GoVersion != "" {
		goVersion = info.GoVersion
	}
	_, _ = fmt.Fprintf(out, "dco3 %s\n", fs.Version)
	_, _ = fmt.Fprintf(out, "- os/type: %s\n", runtime.GOOS)
	_, _ = fmt.Fprintf(out, "- os/arch: %s\n", runtime.GOARCH)
	_, _ = fmt.Fprintf(out, "- go/version: %s\n", goVersion)
}

// ShowServerVersion prints the software version of the instance p
// talks to
func ShowServerVersion(ctx context.Context, p *dracoon.Public, out io.Writer) error {
	v, err := p.GetSoftwareVersion(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "- server/api: %s\n- server/sds: %s\n", v.RestAPIVersion, v.SdsServerVersion)
	return err
}
