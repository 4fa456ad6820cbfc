package version

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ravi-parthasarathy/keel/pkg/component"
)

var (
	// ErrNoUnreleased is returned when the changelog has no Unreleased section.
	ErrNoUnreleased = errors.New("changelog has no Unreleased section")
	// ErrEmptyUnreleased is returned when the Unreleased section is empty.
	ErrEmptyUnreleased = errors.New("changelog Unreleased section is empty")
)

// section is a "## " heading and the lines up to the next one.
type section struct {
	heading    int // line index of the heading
	start, end int // body lines [start, end)
}

func headingTitle(line string) (string, bool) {
	if !strings.HasPrefix(line, "## ") {
		return "", false
	}
	title := strings.TrimSpace(strings.TrimPrefix(line, "## "))
	return strings.Trim(title, "[]"), true
}

// sectionVersion returns the version a heading title names, e.g. "1.2.3"
// for "1.2.3] - 2026-01-01".
func sectionVersion(title string) string {
	fields := strings.FieldsFunc(title, func(r rune) bool { return r == '[' || r == ']' || r == ' ' })
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// findVersionSection locates the "## " heading for version v.
func findVersionSection(lines []string, v string) (section, bool) {
	for i, l := range lines {
		if title, ok := headingTitle(l); ok && sectionVersion(title) == v {
			return findSection(lines[i:], title)
		}
	}
	return section{}, false
}

// findSection locates the first "## " heading whose title (brackets
// stripped, case-insensitive) has the given prefix.
func findSection(lines []string, prefix string) (section, bool) {
	for i, l := range lines {
		title, ok := headingTitle(l)
		if !ok || !strings.HasPrefix(strings.ToLower(title), strings.ToLower(prefix)) {
			continue
		}
		end := len(lines)
		for j := i + 1; j < len(lines); j++ {
			if _, ok := headingTitle(lines[j]); ok {
				end = j
				break
			}
		}
		return section{heading: i, start: i + 1, end: end}, true
	}
	return section{}, false
}

// UnreleasedNotes returns the trimmed body of the Unreleased section.
func UnreleasedNotes(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read changelog: %w", err)
	}
	lines := strings.Split(string(data), "\n")
	sec, ok := findSection(lines, "unreleased")
	if !ok {
		return "", fmt.Errorf("%s: %w", path, ErrNoUnreleased)
	}
	return strings.TrimSpace(strings.Join(lines[sec.start:sec.end], "\n")), nil
}

// LatestRelease returns the version of the newest released section, the
// first one after Unreleased, and the Unreleased notes. The version is ""
// when nothing has been released yet.
func LatestRelease(path string) (latest, notes string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("read changelog: %w", err)
	}
	lines := strings.Split(string(data), "\n")
	sec, ok := findSection(lines, "unreleased")
	if !ok {
		return "", "", fmt.Errorf("%s: %w", path, ErrNoUnreleased)
	}
	notes = strings.TrimSpace(strings.Join(lines[sec.start:sec.end], "\n"))
	if sec.end < len(lines) {
		if title, ok := headingTitle(lines[sec.end]); ok {
			latest = sectionVersion(title)
		}
	}
	return latest, notes, nil
}

// FinalizeChangelog renames the Unreleased section to the released version
// and opens a fresh, empty Unreleased section above it. If the version
// section already exists and Unreleased is empty, the changelog was
// finalized by an earlier run and is left untouched.
func (m *Manager) FinalizeChangelog(_ context.Context, c *component.Component, newVersion string) (string, error) {
	path := c.ChangelogPath()
	if path == "" {
		return "", fmt.Errorf("component %q: %w", c.ID, ErrNoChangelog)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read changelog: %w", err)
	}
	lines := strings.Split(string(data), "\n")

	sec, ok := findSection(lines, "unreleased")
	if !ok {
		return "", fmt.Errorf("%s: %w", path, ErrNoUnreleased)
	}
	body := strings.TrimSpace(strings.Join(lines[sec.start:sec.end], "\n"))
	if body == "" {
		if _, done := findVersionSection(lines, newVersion); done {
			return path, nil
		}
		return "", fmt.Errorf("%s: %w", path, ErrEmptyUnreleased)
	}

	heading := fmt.Sprintf("## [%s] - %s", newVersion, m.now().Format("2006-01-02"))
	out := make([]string, 0, len(lines)+2)
	out = append(out, lines[:sec.heading]...)
	out = append(out, "## Unreleased", "", heading)
	out = append(out, lines[sec.start:]...)

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat changelog: %w", err)
	}
	if err := os.WriteFile(path, []byte(strings.Join(out, "\n")), info.Mode().Perm()); err != nil {
		return "", fmt.Errorf("write changelog: %w", err)
	}
	return path, nil
}
