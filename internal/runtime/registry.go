package runtime

import (
	"fmt"
	"sort"
	"strings"
)

// Runtime defines how to execute code for a specific language.
type Runtime interface {
	// Name returns the canonical language identifier (e.g., "python").
	Name() string

	// Image returns the container image reference for this runtime.
	Image() string

	// Command returns the command and args to execute the given code.
	// The code will be written to codePath inside the container.
	Command(codePath string) []string

	// FileExtension returns the file extension for code files (e.g., ".py").
	FileExtension() string
}

// Registry maps language names (and aliases) to Runtime implementations.
type Registry struct {
	runtimes map[string]Runtime
	aliases  map[string]string
}

// NewRegistry creates a registry with all supported runtimes.
func NewRegistry() *Registry {
	r := &Registry{
		runtimes: make(map[string]Runtime),
		aliases: map[string]string{
			"py":      "python",
			"python3": "python",
			"js":      "javascript",
			"node":    "javascript",
			"nodejs":  "javascript",
			"golang":  "go",
			"sh":      "bash",
			"shell":   "bash",
		},
	}
	r.Register(&PythonRuntime{})
	r.Register(&JavaScriptRuntime{})
	r.Register(&GoRuntime{})
	r.Register(&BashRuntime{})
	return r
}

// Register adds a runtime to the registry.
func (r *Registry) Register(rt Runtime) {
	r.runtimes[rt.Name()] = rt
}

// Resolve maps a user-supplied language name to its canonical form.
func (r *Registry) Resolve(language string) string {
	name := strings.ToLower(strings.TrimSpace(language))
	if canonical, ok := r.aliases[name]; ok {
		return canonical
	}
	return name
}

// Get returns the runtime for the given language or alias.
func (r *Registry) Get(language string) (Runtime, error) {
	rt, ok := r.runtimes[r.Resolve(language)]
	if !ok {
		return nil, fmt.Errorf("unsupported language: %q (supported: %s)",
			language, strings.Join(r.Languages(), ", "))
	}
	return rt, nil
}

// Languages returns all canonical language names, sorted.
func (r *Registry) Languages() []string {
	langs := make([]string, 0, len(r.runtimes))
	for name := range r.runtimes {
		langs = append(langs, name)
	}
	sort.Strings(langs)
	return langs
}

// Images returns all container images needed by registered runtimes.
func (r *Registry) Images() []string {
	images := make([]string, 0, len(r.runtimes))
	for _, rt := range r.runtimes {
		images = append(images, rt.Image())
	}
	return images
}
