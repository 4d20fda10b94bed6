// Package scaffold holds the per-stack policy used by generation and
// materialization: prompt text, required and protected files, canonical
// configuration templates and the internal port each stack listens on.
package scaffold

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"go.uber.org/multierr"

	"github.com/Boendestodet/r3kt.dev-sub000/types"
)

// Stack identifies a supported technology stack.
type Stack string

const (
	StackNextJS      Stack = "nextjs"
	StackReactVite   Stack = "react-vite"
	StackSvelteKit   Stack = "sveltekit"
	StackVueVite     Stack = "vue-vite"
	StackPythonFlask Stack = "python-flask"
	StackStatic      Stack = "static"
)

// DefaultStack is used when a stack string matches nothing.
const DefaultStack = StackNextJS

func (s Stack) String() string { return string(s) }

// Scaffolder is the per-stack policy object.
type Scaffolder interface {
	Stack() Stack
	SystemPrompt() string
	UserPrompt(prompt string) string

	// RequiredFiles lists every file a buildable tree must contain.
	RequiredFiles() []string
	// ProtectedFiles lists build configuration that generated content may never overwrite.
	ProtectedFiles() []string
	// ConfigFiles returns the canonical content of every protected file.
	ConfigFiles() map[string]string
	// DefaultFiles returns a complete required file set with a placeholder page.
	DefaultFiles(title string) (map[string]string, error)

	CreateConfigFiles(dir string) error
	CreateBasicFallback(dir string, project *types.Project) error
	HasRequiredFiles(dir string) bool
	InternalPort() string

	PagePath() string
	StylesheetPath() string
	RenderPage(page Page) (string, error)
}

// Page is stack-independent landing page content rendered by RenderPage.
type Page struct {
	Title    string
	Tagline  string
	Theme    string
	Sections []Section
}

// Section is one content block of a Page.
type Section struct {
	Heading string
	Body    string
}

// Definition describes a stack as data. New turns it into a Scaffolder.
type Definition struct {
	Stack        Stack
	Name         string
	InternalPort string
	// Config holds the protected files.
	Config map[string]string
	// Base holds required files that generation may replace, excluding the
	// page and stylesheet.
	Base           map[string]string
	PagePath       string
	StylesheetPath string
	PageTemplate   string
	Guidance       []string
}

type scaffolder struct {
	def  Definition
	page *template.Template
}

var templateFuncs = template.FuncMap{
	"text": markupText,
}

// New validates def and builds a Scaffolder from it.
func New(def Definition) (Scaffolder, error) {
	if def.Stack == "" {
		return nil, errors.New("stack definition has no id")
	}
	if def.PagePath == "" || def.StylesheetPath == "" {
		return nil, fmt.Errorf("stack %s: page and stylesheet paths are required", def.Stack)
	}
	if def.InternalPort == "" {
		return nil, fmt.Errorf("stack %s: internal port is required", def.Stack)
	}
	tmpl, err := template.New(string(def.Stack)).Funcs(templateFuncs).Parse(def.PageTemplate)
	if err != nil {
		return nil, fmt.Errorf("stack %s: parse page template: %w", def.Stack, err)
	}
	return &scaffolder{def: def, page: tmpl}, nil
}

func (s *scaffolder) Stack() Stack         { return s.def.Stack }
func (s *scaffolder) InternalPort() string { return s.def.InternalPort }
func (s *scaffolder) PagePath() string     { return s.def.PagePath }
func (s *scaffolder) StylesheetPath() string {
	return s.def.StylesheetPath
}

func (s *scaffolder) SystemPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an expert web developer generating a complete %s project.\n", s.def.Name)
	b.WriteString("Respond with a single JSON object and nothing else, shaped as {\"files\": {\"<path>\": \"<file content>\"}}.\n")
	fmt.Fprintf(&b, "The project must contain these files: %s.\n", strings.Join(s.RequiredFiles(), ", "))
	fmt.Fprintf(&b, "These configuration files are managed by the platform and will be ignored if you return them: %s.\n",
		strings.Join(s.ProtectedFiles(), ", "))
	fmt.Fprintf(&b, "The main page lives at %s and global styles at %s.\n", s.def.PagePath, s.def.StylesheetPath)
	for _, line := range s.def.Guidance {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

func (s *scaffolder) UserPrompt(prompt string) string {
	return fmt.Sprintf("Build the following %s application:\n\n%s\n\nReturn only the JSON object.", s.def.Name, strings.TrimSpace(prompt))
}

func (s *scaffolder) RequiredFiles() []string {
	paths := make([]string, 0, len(s.def.Config)+len(s.def.Base)+2)
	for p := range s.def.Config {
		paths = append(paths, p)
	}
	for p := range s.def.Base {
		paths = append(paths, p)
	}
	paths = append(paths, s.def.PagePath, s.def.StylesheetPath)
	sort.Strings(paths)
	return paths
}

func (s *scaffolder) ProtectedFiles() []string {
	return sortedKeys(s.def.Config)
}

func (s *scaffolder) ConfigFiles() map[string]string {
	out := make(map[string]string, len(s.def.Config))
	for p, content := range s.def.Config {
		out[p] = content
	}
	return out
}

func (s *scaffolder) RenderPage(page Page) (string, error) {
	var buf bytes.Buffer
	if err := s.page.Execute(&buf, page); err != nil {
		return "", fmt.Errorf("render %s page: %w", s.def.Stack, err)
	}
	return buf.String(), nil
}

func (s *scaffolder) DefaultFiles(title string) (map[string]string, error) {
	if strings.TrimSpace(title) == "" {
		title = "My App"
	}
	page, err := s.RenderPage(placeholderPage(title))
	if err != nil {
		return nil, err
	}
	files := s.ConfigFiles()
	for p, content := range s.def.Base {
		files[p] = content
	}
	files[s.def.PagePath] = page
	files[s.def.StylesheetPath] = BaseStylesheet
	return files, nil
}

// CreateConfigFiles writes every protected file from its canonical template,
// overwriting whatever is on disk.
func (s *scaffolder) CreateConfigFiles(dir string) error {
	return writeFiles(dir, s.def.Config, true)
}

// CreateBasicFallback fills in any missing required file and then rewrites the
// configuration files.
func (s *scaffolder) CreateBasicFallback(dir string, project *types.Project) error {
	title := ""
	if project != nil {
		title = project.Name
	}
	files, err := s.DefaultFiles(title)
	if err != nil {
		return err
	}
	return multierr.Append(writeFiles(dir, files, false), s.CreateConfigFiles(dir))
}

func (s *scaffolder) HasRequiredFiles(dir string) bool {
	for _, p := range s.RequiredFiles() {
		info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(p)))
		if err != nil || !info.Mode().IsRegular() {
			return false
		}
	}
	return true
}

func placeholderPage(title string) Page {
	return Page{
		Title:   title,
		Tagline: "Your project is being prepared.",
		Theme:   "theme-default",
		Sections: []Section{
			{Heading: "Getting started", Body: "Describe what you want to build and a new version will appear here."},
		},
	}
}

func writeFiles(dir string, files map[string]string, overwrite bool) error {
	var errs error
	for _, p := range sortedKeys(files) {
		target := filepath.Join(dir, filepath.FromSlash(p))
		if !overwrite {
			if _, err := os.Lstat(target); err == nil {
				continue
			}
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("create directory for %s: %w", p, err))
			continue
		}
		if err := os.WriteFile(target, []byte(files[p]), 0o644); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("write %s: %w", p, err))
		}
	}
	return errs
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// markupText escapes text for use inside HTML, JSX, Svelte, Vue and Jinja
// markup. Braces are escaped as well since every one of those treats them as
// expression delimiters.
func markupText(s string) string {
	s = template.HTMLEscapeString(s)
	s = strings.ReplaceAll(s, "{", "&#123;")
	return strings.ReplaceAll(s, "}", "&#125;")
}
