// Package prompts renders Liquid prompt templates and parses model output.
// Prompt bodies live in the prompt_versions table so the learning loop can
// evolve them; the defaults here seed version 1.
package prompts

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/osteele/liquid"
)

// Renderer renders Liquid templates with caching.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // template text -> *liquid.Template
}

// NewRenderer creates a renderer with the filters prompt templates use.
func NewRenderer() *Renderer {
	engine := liquid.NewEngine()

	engine.RegisterFilter("default", func(value any, defaultVal string) any {
		if value == nil {
			return defaultVal
		}
		if s := fmt.Sprintf("%v", value); s == "" || s == "<nil>" {
			return defaultVal
		}
		return value
	})
	engine.RegisterFilter("join_lines", func(value []string) string {
		return strings.Join(value, "\n")
	})

	return &Renderer{engine: engine}
}

// Render renders one template over the bindings. Parsed templates are
// cached by body text.
func (r *Renderer) Render(body string, bindings map[string]any) (string, error) {
	var tpl *liquid.Template
	if cached, ok := r.cache.Load(body); ok {
		tpl = cached.(*liquid.Template)
	} else {
		parsed, err := r.engine.ParseString(body)
		if err != nil {
			return "", fmt.Errorf("parse prompt template: %w", err)
		}
		r.cache.Store(body, parsed)
		tpl = parsed
	}

	out, err := tpl.RenderString(bindings)
	if err != nil {
		return "", fmt.Errorf("render prompt template: %w", err)
	}
	return out, nil
}

// ParseModelJSON unmarshals a model reply into dst, tolerating markdown
// code fences and prose around the JSON object.
func ParseModelJSON(raw string, dst any) error {
	s := strings.TrimSpace(raw)

	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}
	s = strings.TrimSpace(s)

	// Fall back to the outermost braces when the model wrapped the object
	// in prose.
	if !strings.HasPrefix(s, "{") && !strings.HasPrefix(s, "[") {
		start := strings.IndexByte(s, '{')
		end := strings.LastIndexByte(s, '}')
		if start < 0 || end <= start {
			return fmt.Errorf("no JSON object in model reply")
		}
		s = s[start : end+1]
	}

	if err := json.Unmarshal([]byte(s), dst); err != nil {
		return fmt.Errorf("parse model JSON: %w", err)
	}
	return nil
}
