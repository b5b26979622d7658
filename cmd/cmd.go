// Package cmd implements the dco3 command
//
// It is in a sub package so it's internals can be re-used elsewhere
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dco3go/dco3/dracoon"
	"github.com/dco3go/dco3/fs"
	"github.com/dco3go/dco3/fs/config/configfile"
	"github.com/dco3go/dco3/fs/config/configflags"
	"github.com/dco3go/dco3/fs/config/configmap"
	"github.com/dco3go/dco3/fs/config/flags"
	"github.com/dco3go/dco3/fs/fserrors"
	fslog "github.com/dco3go/dco3/fs/log"
	"github.com/dco3go/dco3/fs/log/logflags"
	"github.com/dco3go/dco3/lib/exitcode"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Globals
var (
	// Flags
	configPath   string
	profile      = configfile.DefaultProfile
	configString string
	clientFlags  = map[string]*string{}
	logCloser    io.Closer
	// Errors
	errorNotEnoughArguments = errors.New("not enough arguments")
	errorTooManyArguments   = errors.New("too many arguments")
)

// ClientOptions are the client config keys which can be given on the
// command line as --base-url and so on
var ClientOptions = []struct {
	Name string
	Help string
}{
	{"base_url", "URL of the DRACOON instance"},
	{"client_id", "OAuth2 client ID"},
	{"client_secret", "OAuth2 client secret"},
	{"redirect_uri", "OAuth2 redirect URI (default <base-url>/oauth/callback)"},
	{"encryption_password", "Password for the user key pair"},
	{"max_retries", "Number of retries for failed requests (1-10)"},
	{"min_retry_delay", "Smallest delay between retries"},
	{"max_retry_delay", "Largest delay between retries"},
	{"chunk_size", "Size of each uploaded part"},
	{"upload_concurrency", "Number of parts to upload at once"},
	{"poll_timeout", "How long to wait for the server to finish an upload"},
	{"skip_invalid_recipient_keys", "Skip share recipients with unusable public keys"},
	{"tps_limit", "Limit API transactions per second to this"},
	{"tps_limit_burst", "Max burst of transactions for --tps-limit"},
}

// Root is the main dco3 command
var Root = &cobra.Command{
	Use:   "dco3",
	Short: "Upload files to DRACOON upload shares",
	Long: `dco3 talks to a DRACOON instance.

It can authorize against the instance with OAuth2 and upload files to
public upload shares, encrypting them first when the share is
encrypted.

Client settings are read from command line flags, then --config-string,
then DCO3_ environment variables (eg DCO3_BASE_URL), then the selected
profile of the config file.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(command *cobra.Command, args []string) error {
		return initConfig(command)
	},
}

func init() {
	Root.Version = fs.Version
	ci := fs.GetConfig(context.Background())
	pflags := Root.PersistentFlags()
	configflags.AddFlags(ci, pflags)
	logflags.AddFlags(pflags)
	flags.StringVarP(pflags, &configPath, "config", "", configPath, "Config file (default ~/.config/dco3/dco3.yaml)", "Config")
	flags.StringVarP(pflags, &profile, "profile", "", profile, "Profile to use from the config file", "Config")
	flags.StringVarP(pflags, &configString, "config-string", "", configString, "Base64 encoded JSON map of client config keys", "Config")
	for _, opt := range ClientOptions {
		p := new(string)
		clientFlags[opt.Name] = p
		flags.StringVarP(pflags, p, flagName(opt.Name), "", "", opt.Help, "Client")
	}
}

// flagName turns a config key into its flag name
func flagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

// changedFlags returns the client options set on the command line
func changedFlags(flagSet *pflag.FlagSet) configmap.Simple {
	out := configmap.Simple{}
	for _, opt := range ClientOptions {
		flag := flagSet.Lookup(flagName(opt.Name))
		if flag != nil && flag.Changed {
			out[opt.Name] = flag.Value.String()
		}
	}
	return out
}

// ClientConfig returns the client config layered from the command
// line, --config-string, the environment and the config file, in that
// order of priority.
func ClientConfig() (*configmap.Map, error) {
	m := configmap.New()
	m.AddGetter(changedFlags(Root.PersistentFlags()))
	if configString != "" {
		decoded := configmap.Simple{}
		if err := decoded.Decode(configString); err != nil {
			return nil, fmt.Errorf("--config-string: %w", err)
		}
		m.AddGetter(decoded)
	}
	m.AddGetter(configmap.Environment(flags.EnvPrefix))
	file, err := configfile.Load(configPath, profile)
	if err != nil {
		return nil, err
	}
	m.AddGetter(file)
	return m, nil
}

// NewClient makes a disconnected client from ClientConfig
func NewClient(ctx context.Context) (*dracoon.Disconnected, error) {
	m, err := ClientConfig()
	if err != nil {
		return nil, err
	}
	return dracoon.NewFromConfig(ctx, m)
}

// RefreshTokenKey is the config key the refresh token is saved under
const RefreshTokenKey = "refresh_token"

// Connect makes a client from ClientConfig and connects it with flow.
// A nil flow uses the refresh token from the config.
func Connect(ctx context.Context, flow dracoon.OAuth2Flow) (*dracoon.Connected, error) {
	m, err := ClientConfig()
	if err != nil {
		return nil, err
	}
	d, err := dracoon.NewFromConfig(ctx, m)
	if err != nil {
		return nil, err
	}
	if flow == nil {
		token, ok := m.Get(RefreshTokenKey)
		if !ok || token == "" {
			return nil, errors.New(`no refresh token configured, run "dco3 token --save" first`)
		}
		flow = dracoon.RefreshTokenFlow(token)
	}
	return d.Connect(ctx, flow)
}

// SaveConfigValue stores key in the current profile of the config
// file, creating the file if needed
func SaveConfigValue(key, value string) (string, error) {
	path := configPath
	if path == "" {
		var err error
		path, err = configfile.DefaultPath()
		if err != nil {
			return "", err
		}
	}
	s, err := configfile.New(path)
	if err != nil {
		return "", err
	}
	if err = s.Load(); err != nil && err != configfile.ErrorConfigFileNotFound {
		return "", err
	}
	s.SetValue(profile, key, value)
	if err = s.Save(); err != nil {
		return "", err
	}
	return s.Path(), nil
}

// Run the function and exit with a code describing its error
func Run(command *cobra.Command, f func() error) {
	cmdErr := f()
	if cmdErr != nil {
		fs.Errorf(nil, "Failed to %s: %v", command.Name(), cmdErr)
	}
	resolveExitCode(cmdErr)
}

// CheckArgs checks there are enough arguments and prints a message if not
func CheckArgs(MinArgs, MaxArgs int, cmd *cobra.Command, args []string) {
	if len(args) < MinArgs {
		_ = cmd.Usage()
		_, _ = fmt.Fprintf(os.Stderr, "Command %s needs %d arguments minimum: you provided %d non flag arguments: %q\n", cmd.Name(), MinArgs, len(args), args)
		resolveExitCode(errorNotEnoughArguments)
	} else if len(args) > MaxArgs {
		_ = cmd.Usage()
		_, _ = fmt.Fprintf(os.Stderr, "Command %s needs %d arguments maximum: you provided %d non flag arguments: %q\n", cmd.Name(), MaxArgs, len(args), args)
		resolveExitCode(errorTooManyArguments)
	}
}

// initConfig is run by cobra after initialising the flags
func initConfig(command *cobra.Command) error {
	ctx := context.Background()
	ci := fs.GetConfig(ctx)

	// Finish parsing any command line flags
	if err := configflags.SetFlags(ci, command.Flags()); err != nil {
		return err
	}

	// Start the logger
	closer, err := fslog.InitLogging(ctx, fslog.Opt)
	if err != nil {
		return err
	}
	logCloser = closer

	// Write the args for debug purposes
	fs.Debugf("dco3", "Version %q starting with parameters %q", fs.Version, os.Args)
	return nil
}

// exitCode works out the process exit code for err
func exitCode(err error) int {
	var (
		authErr   *dracoon.AuthError
		cryptoErr *dracoon.CryptoError
		ioErr     *dracoon.IOError
	)
	switch {
	case err == nil:
		return exitcode.Success
	case errors.Is(err, errorNotEnoughArguments), errors.Is(err, errorTooManyArguments):
		return exitcode.UsageError
	case errors.As(err, &authErr), dracoon.IsUnauthorized(err):
		return exitcode.AuthError
	case dracoon.IsNotFound(err):
		return exitcode.NotFound
	case errors.As(err, &cryptoErr), errors.Is(err, dracoon.ErrMissingEncryptionSecret):
		return exitcode.CryptoError
	case errors.As(err, &ioErr):
		return exitcode.IOError
	case fserrors.ShouldRetry(err), errors.Is(err, context.DeadlineExceeded):
		return exitcode.RetryError
	default:
		return exitcode.UncategorizedError
	}
}

func resolveExitCode(err error) {
	if logCloser != nil {
		_ = logCloser.Close()
	}
	os.Exit(exitCode(err))
}

// Main runs dco3 interpreting flags and commands out of os.Args
func Main() {
	if err := flags.SetFromEnv(Root.PersistentFlags()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(exitcode.UsageError)
	}
	if err := Root.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(exitcode.UsageError)
	}
}
