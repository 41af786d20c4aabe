package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	img "github.com/meigma/img/core"
)

// op is a queued archive operation.
type op byte

const (
	opAdd     op = 'a'
	opDelete  op = 'd'
	opReplace op = 'r'
)

// command is one -a/-d/-r group with its resolved paths.
type command struct {
	op    op
	paths []string
}

// parseCommands parses the arguments after the archive path.
// "-dir D" sets the directory prefix for every following file list.
func parseCommands(args []string) ([]command, error) {
	var cmds []command
	dir := ""
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if i+1 >= len(args) {
			return nil, fmt.Errorf("missing value for %s", arg)
		}
		i++
		switch arg {
		case "-dir":
			dir = args[i]
		case "-a", "-d", "-r":
			cmd := command{op: op(arg[1])}
			for _, f := range strings.Split(args[i], ",") {
				if f == "" {
					continue
				}
				cmd.paths = append(cmd.paths, joinDir(dir, f))
			}
			cmds = append(cmds, cmd)
		default:
			return nil, fmt.Errorf("invalid command: %s", arg)
		}
	}
	return cmds, nil
}

func joinDir(dir, file string) string {
	if dir == "" {
		return file
	}
	return filepath.Join(dir, file)
}

// entryName is the archive name used for a filesystem path.
func entryName(path string) string {
	return filepath.Base(path)
}

// prompter asks yes/no questions on an interactive stream.
type prompter struct {
	in        *bufio.Scanner
	out       io.Writer
	assumeYes bool
}

func newPrompter(in io.Reader, out io.Writer, assumeYes bool) *prompter {
	return &prompter{in: bufio.NewScanner(in), out: out, assumeYes: assumeYes}
}

// confirm prints msg and reports whether the answer was "y".
// End of input counts as no.
func (p *prompter) confirm(msg string) bool {
	if p.assumeYes {
		fmt.Fprintf(p.out, "%s (y/n) y\n", msg)
		return true
	}
	fmt.Fprintf(p.out, "%s (y/n) ", msg)
	if !p.in.Scan() {
		fmt.Fprintln(p.out)
		return false
	}
	return strings.EqualFold(strings.TrimSpace(p.in.Text()), "y")
}

// session tracks one interactive edit of an archive.
type session struct {
	archive *img.Archive
	prompt  *prompter
	out     io.Writer
	logger  *slog.Logger

	// claimed holds the entry name of every confirmed operation. Paths in
	// different directories can share a name.
	claimed map[string]struct{}
	// sources lists paths read from disk, in the order they were queued.
	sources []string
}

func newSession(a *img.Archive, p *prompter, out io.Writer, logger *slog.Logger) *session {
	return &session{
		archive: a,
		prompt:  p,
		out:     out,
		logger:  logger,
		claimed: make(map[string]struct{}),
	}
}

func (s *session) warnf(format string, args ...any) {
	fmt.Fprintf(s.out, "Warning: "+format+" Skipping.\n", args...)
}

func (s *session) apply(cmd command) {
	switch cmd.op {
	case opAdd:
		fmt.Fprintln(s.out, "Adding files...")
	case opDelete:
		fmt.Fprintln(s.out, "Deleting files...")
	case opReplace:
		fmt.Fprintln(s.out, "Replacing files...")
	}
	for _, path := range cmd.paths {
		if _, taken := s.claimed[entryName(path)]; taken {
			s.warnf("%s is being processed in another operation.", entryName(path))
			continue
		}
		switch cmd.op {
		case opAdd:
			s.add(path)
		case opDelete:
			s.delete(path)
		case opReplace:
			s.replace(path)
		}
	}
}

func (s *session) add(path string) {
	name := entryName(path)
	if s.archive.Exists(name) {
		s.warnf("%s already exists in the archive.", name)
		return
	}
	if err := img.ValidateName(name); err != nil {
		s.warnf("%s cannot be stored: %v.", name, err)
		return
	}
	data, ok := s.readSource(path, "")
	if !ok {
		return
	}
	if !s.prompt.confirm(fmt.Sprintf("Add %s?", path)) {
		return
	}
	if err := s.archive.Add(name, data); err != nil {
		s.warnf("%s: %v.", path, err)
		return
	}
	s.claim(path, true)
	fmt.Fprintf(s.out, "%s added.\n", path)
}

func (s *session) delete(path string) {
	name := entryName(path)
	if !s.archive.Exists(name) {
		s.warnf("%s does not exist in the archive.", name)
		return
	}
	if !s.prompt.confirm(fmt.Sprintf("Delete %s?", name)) {
		return
	}
	if err := s.archive.Delete(name); err != nil {
		s.warnf("%s: %v.", name, err)
		return
	}
	s.claim(path, false)
	fmt.Fprintf(s.out, "%s deleted.\n", name)
}

func (s *session) replace(path string) {
	name := entryName(path)
	if _, err := os.Stat(path); err != nil {
		s.warnf("%s to replace with does not exist.", path)
		return
	}
	if !s.archive.Exists(name) {
		s.warnf("%s to be replaced does not exist in the archive.", name)
		return
	}
	data, ok := s.readSource(path, " to replace with")
	if !ok {
		return
	}
	if !s.prompt.confirm(fmt.Sprintf("Replace %s?", name)) {
		return
	}
	if err := s.archive.Replace(name, data); err != nil {
		s.warnf("%s: %v.", name, err)
		return
	}
	s.claim(path, true)
	fmt.Fprintf(s.out, "%s replaced.\n", name)
}

// readSource reads a source file, printing a warning on failure.
func (s *session) readSource(path, role string) ([]byte, bool) {
	data, err := readFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.warnf("%s%s does not exist.", path, role)
		return nil, false
	case errors.Is(err, img.ErrPayloadTooLarge):
		s.warnf("%s is larger than %d bytes.", path, img.MaxPayloadSize)
		return nil, false
	case err != nil:
		s.logger.Debug("read source", "path", path, "error", err)
		s.warnf("Failed to read file data for %s.", path)
		return nil, false
	}
	return data, true
}

func readFile(path string) ([]byte, error) {
	f, err := os.Open(path) //nolint:gosec // User-provided path is intentional
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return img.ReadPayload(f)
}

func (s *session) claim(path string, fromDisk bool) {
	s.claimed[entryName(path)] = struct{}{}
	if fromDisk {
		s.sources = append(s.sources, path)
	}
}

// release forgets a claimed name whose archive change was cancelled, so its
// source is not purged.
func (s *session) release(name string) {
	delete(s.claimed, name)
	for i, path := range s.sources {
		if entryName(path) == name {
			s.sources = append(s.sources[:i], s.sources[i+1:]...)
			return
		}
	}
}

// finish asks to save the queued changes and then to purge the sources.
func (s *session) finish(purge string) error {
	if s.archive.Pending().Empty() {
		fmt.Fprintln(s.out, "No changes queued.")
		return nil
	}
	if !s.prompt.confirm("Save changes to the archive?") {
		s.archive.Discard()
		fmt.Fprintln(s.out, "Changes discarded.")
		return nil
	}

	saved, err := s.save()
	if err != nil {
		return err
	}
	if !saved {
		fmt.Fprintln(s.out, "Changes discarded.")
		return nil
	}
	s.purgeSources(purge)
	return nil
}

// save saves the archive. If names are rejected it offers to drop them and
// save the rest.
func (s *session) save() (bool, error) {
	for {
		stats, err := s.archive.Save()
		if err == nil {
			fmt.Fprintf(s.out, "Changes saved: %d entries, %d added, %d deleted, %s.\n",
				stats.Entries, stats.Added, stats.Deleted, stats.Digest)
			return true, nil
		}
		rejected := img.Rejected(err)
		if len(rejected) == 0 {
			return false, fmt.Errorf("save: %w", err)
		}
		for _, ne := range rejected {
			fmt.Fprintf(s.out, "Warning: %s was rejected: %v\n", ne.Name, ne.Err)
		}
		if !s.prompt.confirm("Skip the rejected files and save the rest?") {
			s.archive.Discard()
			return false, nil
		}
		for _, ne := range rejected {
			s.archive.Cancel(ne.Name)
			s.release(ne.Name)
		}
		if s.archive.Pending().Empty() {
			fmt.Fprintln(s.out, "No changes left to save.")
			return false, nil
		}
	}
}

func (s *session) purgeSources(policy string) {
	if len(s.sources) == 0 {
		return
	}
	switch strings.ToLower(policy) {
	case purgeNever:
		return
	case purgeAsk:
		if !s.prompt.confirm("Do you want to delete the files processed?") {
			return
		}
	}
	for _, path := range s.sources {
		if err := os.Remove(path); err != nil {
			s.logger.Debug("remove source", "path", path, "error", err)
			fmt.Fprintf(s.out, "Failed to delete %s from filesystem.\n", path)
			continue
		}
		fmt.Fprintf(s.out, "%s deleted from filesystem.\n", path)
	}
}
