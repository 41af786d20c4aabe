// Command imgtool inspects and edits sector archives interactively.
//
// Usage:
//
//	imgtool [flags] <archive> [-dir D] (-a|-d|-r) f1,f2,... ...
//
// Each listed file is checked, then confirmed on stdin before it is queued.
// A path may take part in only one operation per run. After all commands
// the tool asks whether to save, and after a save whether to delete the
// source files that were added or used as replacements.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"text/tabwriter"

	img "github.com/meigma/img/core"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

var errUsage = errors.New("usage: imgtool [flags] <archive> [-dir D] (-a|-d|-r) f1,f2,... ...")

type options struct {
	configPath string
	assumeYes  bool
	list       bool
	digest     bool
	extractDir string
	create     bool
	logLevel   string
	workers    int
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one imgtool invocation and returns the exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, rest, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	cfg, err := LoadConfig(opts.configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}
	applyFlags(&cfg, opts)
	if err := cfg.validate(); err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	level, _ := cfg.level() //nolint:errcheck // validated above
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	if len(rest) == 0 {
		fmt.Fprintln(stderr, errUsage)
		return exitUsage
	}
	archivePath, commands := rest[0], rest[1:]
	plan, err := parseCommands(commands)
	if err != nil {
		fmt.Fprintln(stderr, err)
		fmt.Fprintln(stderr, errUsage)
		return exitUsage
	}
	if len(plan) == 0 && !opts.list && opts.extractDir == "" {
		fmt.Fprintln(stderr, errUsage)
		return exitUsage
	}

	archiveOpts, err := cfg.archiveOptions(logger)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}
	a, err := openArchive(archivePath, opts.create, archiveOpts)
	if err != nil {
		fmt.Fprintf(stderr, "open %s: %v\n", archivePath, err)
		return exitError
	}
	defer a.Close()

	if opts.list {
		if err := listEntries(stdout, a, opts.digest); err != nil {
			fmt.Fprintln(stderr, err)
			return exitError
		}
	}
	if opts.extractDir != "" {
		if err := extractAll(ctx, stdout, a, opts.extractDir, &cfg, logger); err != nil {
			fmt.Fprintln(stderr, err)
			return exitError
		}
	}
	if len(plan) == 0 {
		return exitOK
	}

	s := newSession(a, newPrompter(stdin, stdout, cfg.AssumeYes), stdout, logger)
	for _, cmd := range plan {
		s.apply(cmd)
	}
	if err := s.finish(cfg.Purge); err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}
	return exitOK
}

func parseFlags(args []string, stderr io.Writer) (options, []string, error) {
	var opts options
	fs := flag.NewFlagSet("imgtool", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", "", "YAML config file")
	fs.BoolVar(&opts.assumeYes, "yes", false, "answer yes to every prompt")
	fs.BoolVar(&opts.list, "list", false, "list the archive directory")
	fs.BoolVar(&opts.digest, "digest", false, "include content digests in -list output")
	fs.StringVar(&opts.extractDir, "extract", "", "extract every entry into this directory")
	fs.BoolVar(&opts.create, "new", false, "create the archive if it does not exist")
	fs.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.IntVar(&opts.workers, "workers", 0, "extraction workers (0 uses the config value)")
	fs.Usage = func() {
		fmt.Fprintln(stderr, errUsage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return opts, nil, err
	}
	return opts, fs.Args(), nil
}

func applyFlags(cfg *Config, opts options) {
	if opts.assumeYes {
		cfg.AssumeYes = true
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if opts.workers > 0 {
		cfg.Workers = opts.workers
	}
}

func openArchive(path string, create bool, opts []img.Option) (*img.Archive, error) {
	if create {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return img.CreateEmpty(path, img.CreateWithOptions(opts...))
		}
	}
	return img.Open(path, opts...)
}

func listEntries(w io.Writer, a *img.Archive, withDigest bool) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	header := "NAME\tSECTOR\tSECTORS\tSIZE"
	if withDigest {
		header += "\tDIGEST"
	}
	fmt.Fprintln(tw, header)
	for e := range a.Entries() {
		line := fmt.Sprintf("%s\t%d\t%d\t%d", e.Name, e.SectorOffset, e.SectorCount, e.DeclaredSize)
		if withDigest {
			d, err := a.Digest(e.Name)
			if err != nil {
				return fmt.Errorf("digest %s: %w", e.Name, err)
			}
			line += "\t" + d.String()
		}
		fmt.Fprintln(tw, line)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "%d entries, format %s\n", a.Len(), a.FormatTag())
	return nil
}

func extractAll(ctx context.Context, w io.Writer, a *img.Archive, dir string, cfg *Config, logger *slog.Logger) error {
	stats, err := a.ExtractAll(ctx, dir,
		img.ExtractWithWorkers(cfg.Workers),
		img.ExtractWithOverwrite(cfg.Overwrite),
		img.ExtractWithProgress(func(ev img.ProgressEvent) {
			logger.Debug("extracted", "name", ev.Name, "done", ev.EntriesDone, "total", ev.EntriesTotal)
		}),
	)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Extracted %d entries (%d bytes) to %s, skipped %d.\n",
		stats.Processed, stats.TotalBytes, dir, stats.Skipped)
	return nil
}
