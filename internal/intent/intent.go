// Package intent loads YAML files of natural-language browser tests.
//
//	name: checkout
//	base_url: https://shop.example.com
//	tests:
//	  - name: login
//	    instruction: log in as the demo user
//	  - name: add-to-cart
//	    instruction: add the first product to the cart
//	    depends_on: [login]
//
// A test may carry a ready-made DSL script instead of an instruction; it is
// then run as written without decomposition.
package intent

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/mender/internal/dsl"
	"github.com/ShayCichocki/mender/pkg/models"
)

var (
	// ErrInvalidFile is wrapped by every validation error.
	ErrInvalidFile = errors.New("invalid intents file")
	// ErrNoMatch is returned when a filter selects no tests.
	ErrNoMatch = errors.New("no tests match filter")
)

// File is a set of tests sharing a base URL.
type File struct {
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url,omitempty"`
	Tests   []Test `yaml:"tests"`

	// Path is where the file was loaded from.
	Path string `yaml:"-"`
}

// Test is one natural-language browser test.
type Test struct {
	Name        string   `yaml:"name"`
	Instruction string   `yaml:"instruction,omitempty"`
	DependsOn   []string `yaml:"depends_on,omitempty"`
	// URL is opened before the test runs, resolved against the file's base URL.
	URL string `yaml:"url,omitempty"`
	// Iterative decomposes one command at a time against the live page.
	Iterative     bool `yaml:"iterative,omitempty"`
	MaxIterations int  `yaml:"max_iterations,omitempty"`
	// Script is a DSL script run as written.
	Script string `yaml:"script,omitempty"`
}

// Load reads and validates an intents file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read intents file: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f.Path = path
	if f.Name == "" {
		f.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return f, nil
}

// Parse decodes and validates intents YAML.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("unmarshal intents: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Save writes f as YAML, creating parent directories.
func Save(f *File, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal intents: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write intents file: %w", err)
	}
	return nil
}

// Validate reports every problem in the file, joined.
func (f *File) Validate() error {
	var errs []error
	add := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalidFile}, args...)...))
	}

	if len(f.Tests) == 0 {
		add("no tests")
	}
	if f.BaseURL != "" {
		if u, err := url.Parse(f.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			add("base_url %q is not an absolute URL", f.BaseURL)
		}
	}

	names := make(map[string]bool, len(f.Tests))
	for i, t := range f.Tests {
		name := strings.TrimSpace(t.Name)
		switch {
		case name == "":
			add("test %d has no name", i+1)
			continue
		case names[name]:
			add("duplicate test name %q", name)
		}
		names[name] = true

		if strings.TrimSpace(t.Instruction) == "" && strings.TrimSpace(t.Script) == "" {
			add("test %q needs an instruction or a script", name)
		}
		if t.Script != "" {
			if _, failures := dsl.ParseScript(t.Script); len(failures) > 0 {
				add("test %q script: %v", name, &failures[0])
			}
		}
		if t.MaxIterations < 0 {
			add("test %q: max_iterations must not be negative", name)
		}
	}

	for _, t := range f.Tests {
		for _, dep := range t.DependsOn {
			switch {
			case dep == t.Name:
				add("test %q depends on itself", t.Name)
			case !names[dep]:
				add("test %q depends on unknown test %q", t.Name, dep)
			}
		}
	}

	return errors.Join(errs...)
}

// Filter returns a copy holding the tests whose names match the glob
// pattern, plus everything they depend on. An empty pattern keeps every test.
func (f *File) Filter(pattern string) (*File, error) {
	if pattern == "" {
		out := *f
		out.Tests = append([]Test(nil), f.Tests...)
		return &out, nil
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile filter %q: %w", pattern, err)
	}

	byName := make(map[string]Test, len(f.Tests))
	for _, t := range f.Tests {
		byName[t.Name] = t
	}

	keep := make(map[string]bool)
	var visit func(name string)
	visit = func(name string) {
		if keep[name] {
			return
		}
		keep[name] = true
		for _, dep := range byName[name].DependsOn {
			visit(dep)
		}
	}

	matched := 0
	for _, t := range f.Tests {
		if g.Match(t.Name) {
			matched++
			visit(t.Name)
		}
	}
	if matched == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoMatch, pattern)
	}

	out := *f
	out.Tests = nil
	for _, t := range f.Tests {
		if keep[t.Name] {
			out.Tests = append(out.Tests, t)
		}
	}
	return &out, nil
}

// Names returns the test names in file order.
func (f *File) Names() []string {
	names := make([]string, len(f.Tests))
	for i, t := range f.Tests {
		names[i] = t.Name
	}
	return names
}

// StartURL returns the URL to open before t runs: t.URL resolved against the
// base URL, the base URL itself, or "" when neither is set.
func (f *File) StartURL(t Test) (string, error) {
	if t.URL == "" {
		return f.BaseURL, nil
	}
	ref, err := url.Parse(t.URL)
	if err != nil {
		return "", fmt.Errorf("test %q url: %w", t.Name, err)
	}
	if f.BaseURL == "" || ref.IsAbs() {
		return ref.String(), nil
	}
	base, err := url.Parse(f.BaseURL)
	if err != nil {
		return "", fmt.Errorf("base_url: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}

// Scripted builds the subtask for a test that carries a script. The test
// name becomes the subtask id so depends_on maps onto subtask dependencies.
func (f *File) Scripted(t Test) (*models.Subtask, error) {
	cmds, failures := dsl.ParseScript(t.Script)
	if len(failures) > 0 {
		return nil, fmt.Errorf("test %q script: %w", t.Name, &failures[0])
	}
	start, err := f.StartURL(t)
	if err != nil {
		return nil, err
	}
	if start != "" && (len(cmds) == 0 || cmds[0].Action() != models.ActionNavigate) {
		nav, err := models.NewCommand(models.ActionNavigate, map[string]string{models.ParamURL: start}, nil)
		if err != nil {
			return nil, err
		}
		cmds = append([]models.Command{nav}, cmds...)
	}
	desc := t.Instruction
	if desc == "" {
		desc = t.Name
	}
	return models.NewSubtask(t.Name, desc, cmds, t.DependsOn...)
}
