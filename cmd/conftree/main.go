// FILE: lixenwraith/conftree/cmd/conftree/main.go
// Command conftree inspects, converts, merges and watches configuration files.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lixenwraith/conftree"
)

const usage = `usage: conftree <command> [flags]

commands:
  get      print the value at a dotted path
  convert  re-encode a file in another format
  merge    merge files left to right and print the result
  watch    print changed paths as the file is edited
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	opts := conftree.DefaultOptions().WithLogger(logger)

	var err error
	switch os.Args[1] {
	case "get":
		err = runGet(opts, os.Args[2:])
	case "convert":
		err = runConvert(opts, os.Args[2:])
	case "merge":
		err = runMerge(opts, os.Args[2:])
	case "watch":
		err = runWatch(opts, logger, os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("Command failed.", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

// resolveFile returns file, or when empty the file named by CONFTREE_CONFIG
// or found as conftree.<ext> in the working or XDG directories.
func resolveFile(file string) (string, error) {
	if file != "" {
		return file, nil
	}
	if found := conftree.DiscoverFile(conftree.DefaultDiscoveryOptions("conftree"), nil); found != "" {
		return found, nil
	}
	return "", errors.New("no configuration file given and none discovered")
}

func runGet(opts *conftree.Options, args []string) error {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	file := fs.String("file", "", "configuration file, discovered when empty")
	def := fs.String("default", "", "value printed when the path is absent")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("get requires exactly one path")
	}

	path, err := resolveFile(*file)
	if err != nil {
		return err
	}
	root, err := conftree.NewFileLoader(path).WithOptions(opts).Load()
	if err != nil {
		return err
	}
	p, err := conftree.ParsePath(fs.Arg(0))
	if err != nil {
		return err
	}
	n := root.Node(p...)
	if n.IsList() || n.IsMap() {
		return conftree.Dump(n.Copy(), os.Stdout, conftree.FormatYAML)
	}
	fmt.Println(n.String(*def))
	return nil
}

func runConvert(opts *conftree.Options, args []string) error {
	fs := flag.NewFlagSet("convert", flag.ExitOnError)
	file := fs.String("file", "config.toml", "input file")
	to := fs.String("to", "yaml", "output format: toml, json or yaml")
	out := fs.String("out", "", "output file, stdout when empty")
	_ = fs.Parse(args)

	format, err := conftree.ParseFormat(*to)
	if err != nil || format == conftree.FormatAuto {
		return fmt.Errorf("invalid output format %q", *to)
	}
	root, err := conftree.NewFileLoader(*file).WithOptions(opts).Load()
	if err != nil {
		return err
	}
	if *out == "" {
		return conftree.Dump(root, os.Stdout, format)
	}
	return conftree.NewFileLoader(*out).WithFormat(format).Save(root)
}

func runMerge(opts *conftree.Options, args []string) error {
	fs := flag.NewFlagSet("merge", flag.ExitOnError)
	to := fs.String("to", "yaml", "output format: toml, json or yaml")
	_ = fs.Parse(args)
	if fs.NArg() == 0 {
		return errors.New("merge requires at least one file")
	}
	format, err := conftree.ParseFormat(*to)
	if err != nil || format == conftree.FormatAuto {
		return fmt.Errorf("invalid output format %q", *to)
	}

	merged := conftree.NewRoot(opts)
	for _, file := range fs.Args() {
		n, err := conftree.NewFileLoader(file).WithOptions(opts).Load()
		if err != nil {
			return err
		}
		if err := merged.MergeFrom(n); err != nil {
			return fmt.Errorf("failed to merge %s: %w", file, err)
		}
	}
	return conftree.Dump(merged, os.Stdout, format)
}

func runWatch(opts *conftree.Options, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	file := fs.String("file", "", "configuration file, discovered when empty")
	poll := fs.Duration("poll", 500*time.Millisecond, "poll interval")
	_ = fs.Parse(args)

	path, err := resolveFile(*file)
	if err != nil {
		return err
	}
	ref, err := conftree.NewReference(conftree.NewFileLoader(path).WithOptions(opts))
	if err != nil {
		return err
	}
	defer ref.Close()

	watchOpts := conftree.DefaultWatchOptions()
	watchOpts.PollInterval = *poll
	if err := ref.Watch(watchOpts); err != nil {
		return err
	}
	changes := ref.Changes()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Watching for configuration changes.", "file", path)
	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down.")
			return nil
		case event, ok := <-changes:
			if !ok {
				return nil
			}
			handleChange(ref, logger, event)
		}
	}
}

func handleChange(ref *conftree.Reference, logger *slog.Logger, event string) {
	switch {
	case event == conftree.EventFileDeleted:
		logger.Warn("Config file was deleted.")
	case event == conftree.EventPermissionsChanged:
		logger.Warn("Config file permissions changed, reload skipped.")
	case event == conftree.EventReloadTimeout:
		logger.Warn("Config reload timed out.")
	case strings.HasPrefix(event, conftree.EventReloadErrorPrefix):
		logger.Error("Config reload failed.", "error", strings.TrimPrefix(event, conftree.EventReloadErrorPrefix))
	default:
		path, err := conftree.ParsePath(event)
		if err != nil {
			logger.Info("Config changed.", "path", event)
			return
		}
		logger.Info("Config changed.", "path", event, "value", ref.Node().Node(path...).Raw())
	}
}
