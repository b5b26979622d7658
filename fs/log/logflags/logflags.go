// Package logflags implements command line flags to set up the log
package logflags

import (
	"github.com/dco3go/dco3/fs/config/flags"
	"github.com/dco3go/dco3/fs/log"
	"github.com/spf13/pflag"
)

// AddFlags adds the log flags to the flagSet
func AddFlags(flagSet *pflag.FlagSet) {
	flags.StringVarP(flagSet, &log.Opt.File, "log-file", "", log.Opt.File, "Log everything to this file", "Logging")
	flags.StringVarP(flagSet, &log.Opt.Format, "log-format", "", log.Opt.Format, "Log format, text or json", "Logging")
}
