// Package manifest reads requirements.txt-style dependency manifests.
// canboot never resolves packages itself; the parser exists so runs can
// be reported and recorded with real dependency counts, and so the
// updater knows what a synced manifest contains.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Requirement is one dependency line from the manifest.
type Requirement struct {
	// Name is the distribution name, lowercased, without extras.
	Name string
	// Constraint is the version specifier portion (e.g. "==1.2.3", ">=2,<3").
	Constraint string
	// Editable marks "-e path" requirements.
	Editable bool
	// Raw is the original line, trimmed.
	Raw string
}

// Manifest is a parsed requirements file.
type Manifest struct {
	Path         string
	Requirements []Requirement
	// Options holds pass-through option lines (--index-url etc.) that pip
	// will interpret itself.
	Options []string
}

// Count returns the number of requirements, includes resolved.
func (m *Manifest) Count() int {
	return len(m.Requirements)
}

// Names returns the requirement names in file order.
func (m *Manifest) Names() []string {
	names := make([]string, 0, len(m.Requirements))
	for _, req := range m.Requirements {
		names = append(names, req.Name)
	}
	return names
}

// Load reads and parses the manifest at path. Nested "-r" includes are
// followed one level deep, relative to the including file.
func Load(path string) (*Manifest, error) {
	return load(path, true)
}

func load(path string, followIncludes bool) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}

	m := &Manifest{Path: path}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Strip trailing inline comment. Pip requires whitespace before #.
		if idx := strings.Index(line, " #"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
			if line == "" {
				continue
			}
		}

		switch {
		case strings.HasPrefix(line, "-r ") || strings.HasPrefix(line, "--requirement "):
			if !followIncludes {
				m.Options = append(m.Options, line)
				continue
			}
			included := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(line, "--requirement"), "-r"))
			sub, err := load(resolveInclude(path, included), false)
			if err != nil {
				return nil, fmt.Errorf("manifest: include %q: %w", included, err)
			}
			m.Requirements = append(m.Requirements, sub.Requirements...)

		case strings.HasPrefix(line, "-e ") || strings.HasPrefix(line, "--editable "):
			target := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(line, "--editable"), "-e"))
			m.Requirements = append(m.Requirements, Requirement{
				Name:     target,
				Editable: true,
				Raw:      line,
			})

		case strings.HasPrefix(line, "-"):
			// Other pip options (--index-url, --no-binary, ...) pass through.
			m.Options = append(m.Options, line)

		default:
			m.Requirements = append(m.Requirements, parseSpecifier(line))
		}
	}

	return m, nil
}

// parseSpecifier splits "name[extras]==1.0 ; marker" into name and
// constraint. Environment markers are folded into the constraint since
// canboot only reports them.
func parseSpecifier(line string) Requirement {
	req := Requirement{Raw: line}

	spec := line
	if idx := strings.Index(spec, ";"); idx >= 0 {
		spec = strings.TrimSpace(spec[:idx])
	}

	// The name ends at the first operator character or extras bracket.
	nameEnd := len(spec)
	for i, ch := range spec {
		if strings.ContainsRune("<>=!~[ ", ch) {
			nameEnd = i
			break
		}
	}

	req.Name = strings.ToLower(strings.TrimSpace(spec[:nameEnd]))

	rest := spec[nameEnd:]
	if idx := strings.Index(rest, "]"); idx >= 0 && strings.HasPrefix(strings.TrimSpace(rest), "[") {
		rest = rest[idx+1:]
	}
	req.Constraint = strings.TrimSpace(rest)

	return req
}

func resolveInclude(parent, included string) string {
	if filepath.IsAbs(included) {
		return included
	}
	return filepath.Join(filepath.Dir(parent), included)
}
