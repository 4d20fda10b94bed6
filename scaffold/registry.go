package scaffold

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Boendestodet/r3kt.dev-sub000/types"
)

// Registry maps stack ids to scaffolders.
type Registry struct {
	mu     sync.RWMutex
	stacks map[Stack]Scaffolder
}

// NewRegistry returns a registry holding the built-in stacks.
func NewRegistry() *Registry {
	r := &Registry{stacks: make(map[Stack]Scaffolder)}
	for _, def := range builtinDefinitions() {
		sc, err := New(def)
		if err != nil {
			// Built-in definitions are static data.
			panic(err)
		}
		r.Register(sc)
	}
	return r
}

// Register adds or replaces the scaffolder for its stack.
func (r *Registry) Register(sc Scaffolder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stacks[sc.Stack()] = sc
}

// Get returns the scaffolder for stack.
func (r *Registry) Get(stack Stack) (Scaffolder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sc, ok := r.stacks[stack]
	if !ok {
		return nil, fmt.Errorf("no scaffolder registered for stack %q", stack)
	}
	return sc, nil
}

// Stacks lists registered stack ids.
func (r *Registry) Stacks() []Stack {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Stack, 0, len(r.stacks))
	for s := range r.stacks {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ForDirectory picks the scaffolder matching the marker files found in dir.
// When preferred's own markers are present it wins over stacks checked
// earlier. The bool is false when no marker was found and the default stack
// was used.
func (r *Registry) ForDirectory(dir string, preferred Stack) (Scaffolder, bool, error) {
	stack, ok := DetectDirectory(dir)
	if preferred != "" && hasMarker(dir, preferred) {
		stack, ok = preferred, true
	}
	sc, err := r.Get(stack)
	return sc, ok, err
}

// ForeignFiles lists the protected and marker files of every other registered
// stack that stack itself neither requires nor uses as a marker. Left on disk
// they would be built with, or detected as, the wrong stack.
func (r *Registry) ForeignFiles(stack Stack) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	own := make(map[string]bool)
	if sc, ok := r.stacks[stack]; ok {
		for _, p := range sc.RequiredFiles() {
			own[p] = true
		}
	}
	for _, p := range markersFor(stack) {
		own[p] = true
	}

	foreign := make(map[string]bool)
	for other, sc := range r.stacks {
		if other == stack {
			continue
		}
		for _, p := range append(sc.ProtectedFiles(), markersFor(other)...) {
			if !own[p] {
				foreign[p] = true
			}
		}
	}
	out := make([]string, 0, len(foreign))
	for p := range foreign {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// ForProject resolves the project's stack setting. The bool is false when the
// setting matched nothing and the default stack was used.
func (r *Registry) ForProject(p *types.Project) (Scaffolder, bool, error) {
	stack, ok := DetectStack(p.StackSetting())
	sc, err := r.Get(stack)
	return sc, ok, err
}

type stackPattern struct {
	stack    Stack
	patterns []string
}

// Ordered most specific first: "svelte" must win over "vite", "next" over "react".
var detectionTable = []stackPattern{
	{StackSvelteKit, []string{"sveltekit", "svelte"}},
	{StackNextJS, []string{"next.js", "nextjs", "next"}},
	{StackVueVite, []string{"nuxt", "vue"}},
	{StackReactVite, []string{"vite", "react"}},
	{StackPythonFlask, []string{"flask", "fastapi", "django", "python"}},
	{StackStatic, []string{"html", "static", "vanilla"}},
}

// DetectStack resolves a free-text stack string by case-insensitive substring
// match. Unmatched input returns DefaultStack and false.
func DetectStack(s string) (Stack, bool) {
	needle := strings.ToLower(strings.TrimSpace(s))
	if needle == "" {
		return DefaultStack, false
	}
	for _, entry := range detectionTable {
		for _, p := range entry.patterns {
			if strings.Contains(needle, p) {
				return entry.stack, true
			}
		}
	}
	return DefaultStack, false
}

type dirMarker struct {
	stack Stack
	files []string
}

// Checked in order; a stack matches when any of its files exists.
var directoryMarkers = []dirMarker{
	{StackSvelteKit, []string{"svelte.config.js"}},
	{StackNextJS, []string{"next.config.js", "next.config.mjs"}},
	{StackVueVite, []string{"src/App.vue"}},
	{StackReactVite, []string{"vite.config.ts", "vite.config.js"}},
	{StackPythonFlask, []string{"requirements.txt"}},
	{StackStatic, []string{"index.html"}},
}

// DetectDirectory infers the stack of a materialized tree from marker files.
// A directory with no marker falls back to DefaultStack and false.
func DetectDirectory(dir string) (Stack, bool) {
	for _, m := range directoryMarkers {
		if anyExists(dir, m.files) {
			return m.stack, true
		}
	}
	return DefaultStack, false
}

func markersFor(stack Stack) []string {
	for _, m := range directoryMarkers {
		if m.stack == stack {
			return m.files
		}
	}
	return nil
}

func hasMarker(dir string, stack Stack) bool {
	return anyExists(dir, markersFor(stack))
}

func anyExists(dir string, files []string) bool {
	for _, f := range files {
		if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(f))); err == nil {
			return true
		}
	}
	return false
}
