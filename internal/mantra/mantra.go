// Package mantra loads reference recitation material: sections of lines,
// each with its reference audio span and canonical syllables.
package mantra

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/swaracoach/internal/practice"
	"github.com/MrWong99/swaracoach/internal/swara"
)

// ErrSectionNotFound is returned by [Library.Section] for unknown ids.
var ErrSectionNotFound = errors.New("mantra: section not found")

// Line is one line of a section.
type Line struct {
	Text string `yaml:"text"`

	// Audio overrides the section's reference audio for this line.
	Audio string `yaml:"audio"`

	// Start and End trim the reference audio. Zero End plays to the end.
	Start time.Duration `yaml:"start"`
	End   time.Duration `yaml:"end"`

	Syllables []swara.Syllable `yaml:"syllables"`
}

// Section is an ordered group of lines practised in one run.
type Section struct {
	ID    string        `yaml:"id"`
	Title string        `yaml:"title"`
	Mode  practice.Mode `yaml:"mode"`

	// Audio is the default reference recording for every line.
	Audio string `yaml:"audio"`

	Lines []Line `yaml:"lines"`
}

// Library is a parsed mantra file.
type Library struct {
	Sections []Section `yaml:"sections"`
}

// Load reads and validates the mantra file at path. Relative audio paths
// are resolved against the file's directory.
func Load(path string) (*Library, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mantra: open %q: %w", path, err)
	}
	defer f.Close()

	lib, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("mantra: parse %q: %w", path, err)
	}
	lib.resolve(filepath.Dir(path))
	return lib, nil
}

// LoadFromReader decodes and validates a mantra file from r.
func LoadFromReader(r io.Reader) (*Library, error) {
	lib := &Library{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(lib); err != nil {
		return nil, fmt.Errorf("mantra: decode yaml: %w", err)
	}
	for i := range lib.Sections {
		if lib.Sections[i].Mode == "" {
			lib.Sections[i].Mode = practice.ModeLine
		}
	}
	if err := lib.Validate(); err != nil {
		return nil, err
	}
	return lib, nil
}

// Validate reports every structural problem in lib.
func (lib *Library) Validate() error {
	var errs []error
	if len(lib.Sections) == 0 {
		errs = append(errs, errors.New("no sections defined"))
	}
	seen := make(map[string]bool)
	for i, s := range lib.Sections {
		where := fmt.Sprintf("sections[%d]", i)
		if s.ID == "" {
			errs = append(errs, fmt.Errorf("%s: id is required", where))
		} else if seen[s.ID] {
			errs = append(errs, fmt.Errorf("%s: duplicate id %q", where, s.ID))
		}
		seen[s.ID] = true
		if !s.Mode.Valid() {
			errs = append(errs, fmt.Errorf("%s: unknown mode %q", where, s.Mode))
		}
		if len(s.Lines) == 0 {
			errs = append(errs, fmt.Errorf("%s: no lines", where))
		}
		for j, l := range s.Lines {
			lw := fmt.Sprintf("%s.lines[%d]", where, j)
			if l.Audio == "" && s.Audio == "" {
				errs = append(errs, fmt.Errorf("%s: no reference audio", lw))
			}
			if l.Start < 0 || (l.End != 0 && l.End <= l.Start) {
				errs = append(errs, fmt.Errorf("%s: invalid span [%v, %v]", lw, l.Start, l.End))
			}
			for k, syl := range l.Syllables {
				if syl.Text == "" {
					errs = append(errs, fmt.Errorf("%s.syllables[%d]: text is required", lw, k))
				}
				if !syl.Expected.Valid() {
					errs = append(errs, fmt.Errorf("%s.syllables[%d]: unknown swara %q", lw, k, syl.Expected))
				}
			}
		}
	}
	return errors.Join(errs...)
}

// Section returns the section with the given id.
func (lib *Library) Section(id string) (*Section, error) {
	i := slices.IndexFunc(lib.Sections, func(s Section) bool { return s.ID == id })
	if i < 0 {
		return nil, fmt.Errorf("%w: %q", ErrSectionNotFound, id)
	}
	return &lib.Sections[i], nil
}

// IDs lists section ids in file order.
func (lib *Library) IDs() []string {
	out := make([]string, len(lib.Sections))
	for i, s := range lib.Sections {
		out[i] = s.ID
	}
	return out
}

func (lib *Library) resolve(dir string) {
	for i := range lib.Sections {
		s := &lib.Sections[i]
		s.Audio = resolvePath(dir, s.Audio)
		for j := range s.Lines {
			s.Lines[j].Audio = resolvePath(dir, s.Lines[j].Audio)
		}
	}
}

func resolvePath(dir, ref string) string {
	if ref == "" || filepath.IsAbs(ref) {
		return ref
	}
	if u, err := url.Parse(ref); err == nil && u.Scheme != "" {
		return ref
	}
	return filepath.Join(dir, ref)
}

// Line returns line i.
func (s *Section) Line(i int) (Line, error) {
	if i < 0 || i >= len(s.Lines) {
		return Line{}, fmt.Errorf("mantra: section %q has no line %d", s.ID, i)
	}
	return s.Lines[i], nil
}

// AudioURL returns the reference audio of line i.
func (s *Section) AudioURL(i int) string {
	if i < 0 || i >= len(s.Lines) {
		return ""
	}
	if a := s.Lines[i].Audio; a != "" {
		return a
	}
	return s.Audio
}

// Syllables returns the canonical syllables of line i with CanonicalIndex
// set to their position within the whole section.
func (s *Section) Syllables(i int) []swara.Syllable {
	if i < 0 || i >= len(s.Lines) {
		return nil
	}
	offset := 0
	for _, l := range s.Lines[:i] {
		offset += len(l.Syllables)
	}
	out := slices.Clone(s.Lines[i].Syllables)
	for k := range out {
		out[k].CanonicalIndex = offset + k
	}
	return out
}

// Script returns the practice script for the section.
func (s *Section) Script() practice.Script {
	audio := make([]string, len(s.Lines))
	for i := range s.Lines {
		audio[i] = s.AudioURL(i)
	}
	return practice.Script{Mode: s.Mode, LineAudio: audio}
}
