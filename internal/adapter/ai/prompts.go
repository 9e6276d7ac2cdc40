package ai

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/octup/sentinel/internal/domain"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

// Prompt template names, one file per operation.
const (
	PromptClassifyException = "classify_exception"
	PromptAnalyzeOrder      = "analyze_order_problems"
	PromptAnalyzeResolution = "analyze_automated_resolution"
	PromptLintPolicy        = "lint_policy"
)

var varRe = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// PromptSet loads and renders the operation templates. Templates are cached by
// name after first load; Reload drops the cache so operator edits under
// overrideDir take effect without a restart.
type PromptSet struct {
	overrideDir string

	mu    sync.RWMutex
	cache map[string]string
}

// NewPromptSet builds a set backed by the embedded templates; overrideDir, when
// non-empty, takes precedence per template file.
func NewPromptSet(overrideDir string) *PromptSet {
	return &PromptSet{overrideDir: overrideDir, cache: make(map[string]string)}
}

func (p *PromptSet) load(name string) (string, error) {
	p.mu.RLock()
	if t, ok := p.cache[name]; ok {
		p.mu.RUnlock()
		return t, nil
	}
	p.mu.RUnlock()

	var raw []byte
	var err error
	if p.overrideDir != "" {
		raw, err = os.ReadFile(filepath.Join(p.overrideDir, name+".tmpl"))
	}
	if p.overrideDir == "" || err != nil {
		raw, err = promptFS.ReadFile("prompts/" + name + ".tmpl")
	}
	if err != nil {
		return "", fmt.Errorf("op=prompt.load: %q: %w", name, domain.ErrNotFound)
	}
	t := string(raw)
	p.mu.Lock()
	p.cache[name] = t
	p.mu.Unlock()
	return t, nil
}

// Render substitutes {{var}} placeholders. Every placeholder must be bound;
// unbound placeholders fail the render rather than leak into the model input.
func (p *PromptSet) Render(name string, vars map[string]string) (string, error) {
	t, err := p.load(name)
	if err != nil {
		return "", err
	}
	var missing []string
	out := varRe.ReplaceAllStringFunc(t, func(tok string) string {
		key := varRe.FindStringSubmatch(tok)[1]
		v, ok := vars[key]
		if !ok {
			missing = append(missing, key)
			return tok
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("op=prompt.render: %q missing vars %s: %w",
			name, strings.Join(missing, ","), domain.ErrInvalidArgument)
	}
	return out, nil
}

// Reload drops cached templates; the next Render re-reads from disk (or the
// embedded copy).
func (p *PromptSet) Reload() {
	p.mu.Lock()
	p.cache = make(map[string]string)
	p.mu.Unlock()
}
