package policy

import (
	"bufio"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/core-tools/hsu-renice/pkg/errors"
	"github.com/core-tools/hsu-renice/pkg/logging"
)

const (
	ExtTypes   = ".types"
	ExtRules   = ".rules"
	ExtCgroups = ".cgroups"
)

const maxLineLength = 64 * 1024

// LoadStats counts what a directory walk produced.
type LoadStats struct {
	Files        int
	SkippedFiles int
	Records      int
	SkippedLines int
	Overrides    int
}

// ParseLines calls handle for every line that is neither blank nor a comment.
// It only fails when the reader itself fails.
func ParseLines(r io.Reader, handle func(lineNo int, line string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineLength)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		handle(lineNo, line)
	}
	if err := scanner.Err(); err != nil {
		return errors.NewConfigIOError("failed to read file", err).WithContext("line", lineNo+1)
	}
	return nil
}

type loader struct {
	tables *Tables
	stats  LoadStats
	logger logging.Logger
}

// LoadTables walks root recursively in lexical order and builds the policy
// tables from every .types, .rules and .cgroups file. Bad lines and unreadable
// files are logged and skipped; only an unusable root is an error.
func LoadTables(root string, logger logging.Logger) (*Tables, LoadStats, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, LoadStats{}, errors.NewConfigIOError("cannot access policy directory", err).WithContext("dir", root)
	}
	if !info.IsDir() {
		return nil, LoadStats{}, errors.NewConfigIOError("policy path is not a directory", nil).WithContext("dir", root)
	}

	l := &loader{
		tables: NewTables(),
		logger: logger,
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			l.logger.Warnf("Skipping unreadable path %s: %v", path, walkErr)
			if d != nil && d.IsDir() && path != root {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		switch filepath.Ext(path) {
		case ExtTypes, ExtRules, ExtCgroups:
			l.loadFile(path)
		}
		return nil
	})
	if err != nil {
		return nil, l.stats, errors.NewConfigIOError("failed to walk policy directory", err).WithContext("dir", root)
	}

	return l.tables, l.stats, nil
}

func (l *loader) loadFile(path string) {
	f, err := os.Open(path)
	if err != nil {
		l.stats.SkippedFiles++
		l.logger.Warnf("%v", errors.NewConfigIOError("failed to open policy file", err).WithContext("file", path))
		return
	}
	defer f.Close()

	l.stats.Files++
	ext := filepath.Ext(path)

	err = ParseLines(f, func(lineNo int, line string) {
		if err := l.loadLine(ext, line); err != nil {
			l.stats.SkippedLines++
			l.logger.Warnf("Skipping %s:%d: %v", path, lineNo, err)
			return
		}
		l.stats.Records++
	})
	if err != nil {
		l.stats.SkippedFiles++
		l.logger.Warnf("Stopped reading %s: %v", path, err)
	}
}

func (l *loader) loadLine(ext, line string) error {
	switch ext {
	case ExtTypes:
		t, err := DecodeType(line)
		if err != nil {
			return err
		}
		if _, exists := l.tables.Types[t.Name]; exists {
			l.stats.Overrides++
			l.logger.Debugf("Type %s redefined, later declaration wins", t.Name)
		}
		l.tables.Types[t.Name] = t

	case ExtRules:
		r, err := DecodeRule(line)
		if err != nil {
			return err
		}
		if _, exists := l.tables.Rules[r.Name]; exists {
			l.stats.Overrides++
			l.logger.Debugf("Rule %s redefined, later declaration wins", r.Name)
		}
		l.tables.Rules[r.Name] = r

	case ExtCgroups:
		c, err := DecodeCgroup(line)
		if err != nil {
			return err
		}
		if _, exists := l.tables.Cgroups[c.Name]; exists {
			l.stats.Overrides++
			l.logger.Debugf("Cgroup %s redefined, later declaration wins", c.Name)
		}
		l.tables.Cgroups[c.Name] = c
	}
	return nil
}
