// Package log sets up where and how the client logs
package log

import (
	"context"
	"io"
	"os"

	"github.com/dco3go/dco3/fs"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Options contains options for controlling the logging
type Options struct {
	File   string `config:"log_file"`   // Log everything to this file
	Format string `config:"log_format"` // text or json
}

// Opt is the options for the logger
var Opt = Options{
	Format: "text",
}

// InitLogging points fs.Logger at the configured destination and
// picks its formatter.
//
// The returned closer releases the log file, if one was opened.
func InitLogging(ctx context.Context, opt Options) (io.Closer, error) {
	ci := fs.GetConfig(ctx)
	var formatter logrus.Formatter
	switch opt.Format {
	case "", "text":
		formatter = &logrus.TextFormatter{
			DisableLevelTruncation: true,
			FullTimestamp:          true,
			DisableColors:          opt.File != "",
		}
	case "json":
		formatter = &logrus.JSONFormatter{}
	default:
		return nil, errors.Errorf("unknown log format %q", opt.Format)
	}
	var closer io.Closer = nopCloser{}
	if opt.File != "" {
		f, err := os.OpenFile(opt.File, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0640)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open log file")
		}
		fs.Logger.SetOutput(f)
		closer = f
	}
	ci.UseJSONLog = opt.Format == "json"
	fs.Logger.SetFormatter(formatter)
	fs.Debugf(nil, "Logging at level %v to %q", ci.LogLevel, logDestination(opt))
	return closer, nil
}

func logDestination(opt Options) string {
	if opt.File == "" {
		return "stderr"
	}
	return opt.File
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
