// Package upload provides the upload command.
package upload

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/dco3go/dco3/cmd"
	"github.com/dco3go/dco3/dracoon"
	"github.com/dco3go/dco3/fs"
	"github.com/dco3go/dco3/fs/config/flags"
	"github.com/dco3go/dco3/lib/readers"
	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	remoteName string
	notes      string
)

func init() {
	cmd.Root.AddCommand(commandDefinition)
	cmdFlags := commandDefinition.Flags()
	flags.StringVarP(cmdFlags, &remoteName, "name", "", "", "Name to store the file under (default the local file name)", "")
	flags.StringVarP(cmdFlags, &notes, "notes", "", "", "Notes to attach to the upload", "")
}

var commandDefinition = &cobra.Command{
	Use:   "upload ACCESS_KEY FILE",
	Short: `Upload a file to a public upload share.`,
	Long: `Upload FILE to the public upload share with ACCESS_KEY.

The file is sent straight to the object storage of the instance in
parts of --chunk-size, --upload-concurrency at a time. If the share is
encrypted the file is encrypted for every recipient of the share
before it leaves this machine.

The name the server stored the file under is printed on success.

    dco3 upload --base-url https://dracoon.example.com AbCdEf report.pdf
`,
	Run: func(command *cobra.Command, args []string) {
		cmd.CheckArgs(2, 2, command, args)
		cmd.Run(command, func() error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			d, err := cmd.NewClient(ctx)
			if err != nil {
				return err
			}
			opt := Options{Name: remoteName, Notes: notes}
			return Upload(ctx, d.Public(), args[0], args[1], opt, os.Stdout)
		})
	},
}

// Options for Upload
type Options struct {
	Name  string // stored name, the base name of the file if empty
	Notes string
}

// Upload sends the file at path to the share with accessKey and
// writes the stored name to out
func Upload(ctx context.Context, p *dracoon.Public, accessKey, path string, opt Options, out io.Writer) (err error) {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return errors.Errorf("%q is a directory", path)
	}
	name := opt.Name
	if name == "" {
		name = filepath.Base(path)
	}
	if mt, err := mimetype.DetectFile(path); err == nil {
		fs.Debugf(name, "Content type %s", mt.String())
	}

	share, err := p.GetUploadShare(ctx, accessKey)
	if err != nil {
		return errors.Wrap(err, "failed to read upload share")
	}
	if share.RemainingSize != nil && *share.RemainingSize < fi.Size() {
		return errors.Errorf("share %q has %s left but %q is %s", share.Name, fs.SizeSuffix(*share.RemainingSize).ByteUnit(), name, fs.SizeSuffix(fi.Size()).ByteUnit())
	}
	if share.RemainingSlots != nil && *share.RemainingSlots < 1 {
		return errors.Errorf("share %q takes no more files", share.Name)
	}
	if share.IsEncrypted {
		fs.Infof(name, "Encrypting for %d recipients", len(share.Recipients()))
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	in := readers.NewContextReader(ctx, f)
	defer fs.CheckClose(in, &err)

	stored, err := p.Upload(ctx, accessKey, share, dracoon.UploadOptions{
		Name:       name,
		Size:       fi.Size(),
		ModifiedAt: fi.ModTime(),
		Notes:      opt.Notes,
	}, in, progress(name))
	if err != nil {
		return err
	}
	fs.Infof(stored, "Uploaded %s", fs.SizeSuffix(fi.Size()).ByteUnit())
	_, err = fmt.Fprintln(out, stored)
	return err
}

// progress logs each finished part at info level
func progress(name string) dracoon.ProgressFunc {
	return func(transferred, total int64) {
		percent := 100
		if total > 0 {
			percent = int(transferred * 100 / total)
		}
		fs.Infof(name, "Sent %s of %s (%d%%)", fs.SizeSuffix(transferred).ByteUnit(), fs.SizeSuffix(total).ByteUnit(), percent)
	}
}
