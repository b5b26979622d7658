// Package flags contains enhanced versions of spf13/pflag flag
// routines which will read from the environment also.
package flags

import (
	"os"
	"strings"
	"time"

	"github.com/dco3go/dco3/fs"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// EnvPrefix is put in front of the upper cased flag name to make the
// environment variable which sets it
const EnvPrefix = "DCO3_"

// OptionToEnv converts a flag or config key name, eg "log-level" or
// "base_url", into the environment variable name which sets it.
func OptionToEnv(name string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

// setValueFromEnv sets the value and default of the flag called name
// from the environment if the variable is present. The command line
// still overrides it when parsed.
func setValueFromEnv(flags *pflag.FlagSet, name string) error {
	envKey := OptionToEnv(name)
	envValue, found := os.LookupEnv(envKey)
	if !found {
		return nil
	}
	flag := flags.Lookup(name)
	if flag == nil {
		return errors.Errorf("couldn't find flag --%q", name)
	}
	if err := flags.Set(name, envValue); err != nil {
		return errors.Wrapf(err, "invalid value when setting --%s from environment variable %s=%q", name, envKey, envValue)
	}
	fs.Debugf(nil, "Setting --%s %q from environment variable %s=%q", name, flag.Value, envKey, envValue)
	flag.DefValue = envValue
	// Set marks the flag as changed, the command line hasn't yet
	flag.Changed = false
	return nil
}

// SetFromEnv reads every flag in flags which has an environment
// variable set. Call it after defining the flags and before parsing
// the command line.
func SetFromEnv(flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(flag *pflag.Flag) {
		if err == nil {
			err = setValueFromEnv(flags, flag.Name)
		}
	})
	return err
}

// StringVarP defines a string flag with help in group
func StringVarP(flags *pflag.FlagSet, p *string, name, shorthand string, value string, usage string, group string) {
	flags.StringVarP(p, name, shorthand, value, usage)
	setGroup(flags, name, group)
}

// BoolVarP defines a bool flag with help in group
func BoolVarP(flags *pflag.FlagSet, p *bool, name, shorthand string, value bool, usage string, group string) {
	flags.BoolVarP(p, name, shorthand, value, usage)
	setGroup(flags, name, group)
}

// IntVarP defines an int flag with help in group
func IntVarP(flags *pflag.FlagSet, p *int, name, shorthand string, value int, usage string, group string) {
	flags.IntVarP(p, name, shorthand, value, usage)
	setGroup(flags, name, group)
}

// Float64VarP defines a float64 flag with help in group
func Float64VarP(flags *pflag.FlagSet, p *float64, name, shorthand string, value float64, usage string, group string) {
	flags.Float64VarP(p, name, shorthand, value, usage)
	setGroup(flags, name, group)
}

// DurationVarP defines a time.Duration flag with help in group
func DurationVarP(flags *pflag.FlagSet, p *time.Duration, name, shorthand string, value time.Duration, usage string, group string) {
	flags.DurationVarP(p, name, shorthand, value, usage)
	setGroup(flags, name, group)
}

// CountVarP defines a flag which increments each time it is given,
// like -vv
func CountVarP(flags *pflag.FlagSet, p *int, name, shorthand string, usage string, group string) {
	flags.CountVarP(p, name, shorthand, usage)
	setGroup(flags, name, group)
}

// FVarP defines a flag backed by a pflag.Value such as fs.SizeSuffix
// or fs.Duration
func FVarP(flags *pflag.FlagSet, value pflag.Value, name, shorthand, usage string, group string) *pflag.Flag {
	flags.VarP(value, name, shorthand, usage)
	setGroup(flags, name, group)
	return flags.Lookup(name)
}

// setGroup annotates the flag with the help group it belongs in
func setGroup(flags *pflag.FlagSet, name, group string) {
	if group == "" {
		return
	}
	_ = flags.SetAnnotation(name, "group", []string{group})
}
