// Copyright 2017 Microsoft. All rights reserved.
// MIT License

// Package status publishes the daemon's external status token file and
// the diagnostics side-file consumed by `cpdiag`/`cpview`, mirroring
// update_cpdiag/update_multiple_vip_attribute.
package status

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/chkp-dmorris/Azure-extended-zone/internal/platform"
)

// Token is one of the three status values the daemon ever publishes.
type Token string

const (
	NotStarted Token = "NOT_STARTED"
	InProgress Token = "IN_PROGRESS"
	Done       Token = "DONE"
)

// Publisher writes the status token file and, optionally, the diagnostics
// side-file tracking per-interface VIP counts.
type Publisher struct {
	StatusPath string
	DiagPath   string
}

// New returns a Publisher writing to statusPath, with diagPath (may be
// empty to disable diagnostics updates).
func New(statusPath, diagPath string) *Publisher {
	return &Publisher{StatusPath: statusPath, DiagPath: diagPath}
}

// Write atomically replaces the status file's contents with tok.
func (p *Publisher) Write(tok Token) error {
	if p.StatusPath == "" {
		return nil
	}
	if err := platform.CreateDirectory(filepath.Dir(p.StatusPath)); err != nil {
		return errors.Wrap(err, "creating status directory")
	}

	tmp := p.StatusPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(tok), 0o644); err != nil {
		return errors.Wrap(err, "writing status file")
	}
	if err := platform.ReplaceFile(tmp, p.StatusPath); err != nil {
		return errors.Wrap(err, "replacing status file")
	}
	return nil
}

var vipCountLine = regexp.MustCompile(`^(\S+)_vips_number:`)

// WriteVIPUsage rewrites p.DiagPath so that it carries one
// "<suffix>_vips_number: <N>" line per entry in counts, preserving every
// other line untouched, replacing lines whose key already exists in place
// and appending lines for keys not yet present.
func (p *Publisher) WriteVIPUsage(counts map[string]int) error {
	if p.DiagPath == "" {
		return nil
	}

	lines, err := platform.ReadFileByLines(p.DiagPath)
	if err != nil {
		if !stderrors.Is(err, os.ErrNotExist) {
			return errors.Wrap(err, "reading diagnostics side-file")
		}
		lines = nil
	}

	remaining := make(map[string]int, len(counts))
	for k, v := range counts {
		remaining[k] = v
	}

	out := make([]string, 0, len(lines)+len(counts))
	for _, line := range lines {
		m := vipCountLine.FindStringSubmatch(line)
		if m == nil {
			out = append(out, line)
			continue
		}
		key := m[1]
		if n, ok := remaining[key]; ok {
			out = append(out, formatVIPCountLine(key, n))
			delete(remaining, key)
			continue
		}
		out = append(out, line)
	}

	for key, n := range counts {
		if _, stillPending := remaining[key]; stillPending {
			out = append(out, formatVIPCountLine(key, n))
		}
	}

	content := strings.Join(out, "")
	if len(content) == 0 || !strings.HasSuffix(content, "\n") {
		content += "\n"
	}

	tmp := p.DiagPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return errors.Wrap(err, "writing diagnostics side-file")
	}
	return errors.Wrap(platform.ReplaceFile(tmp, p.DiagPath), "replacing diagnostics side-file")
}

func formatVIPCountLine(key string, n int) string {
	return fmt.Sprintf("%s_vips_number: %d\n", key, n)
}
