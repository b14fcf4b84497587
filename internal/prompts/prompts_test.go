package prompts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderBindingsAndFilters(t *testing.T) {
	r := NewRenderer()

	out, err := r.Render(
		`Hello {{ name | default: "there" }}. Triggers:
{{ triggers | join_lines }}`,
		map[string]any{
			"name":     "",
			"triggers": []string{"funding round", "new CTO"},
		})
	require.NoError(t, err)
	assert.Contains(t, out, "Hello there.")
	assert.Contains(t, out, "funding round\nnew CTO")
}

func TestRenderCachesParsedTemplates(t *testing.T) {
	r := NewRenderer()
	body := `{{ x }}`

	out, err := r.Render(body, map[string]any{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, "1", out)

	out, err = r.Render(body, map[string]any{"x": 2})
	require.NoError(t, err)
	assert.Equal(t, "2", out)
}

func TestParseModelJSON(t *testing.T) {
	type reply struct {
		Decision string `json:"decision"`
		Score    int    `json:"score"`
	}

	cases := []struct {
		name string
		raw  string
	}{
		{"bare object", `{"decision":"yes","score":8}`},
		{"fenced", "```json\n{\"decision\":\"yes\",\"score\":8}\n```"},
		{"fence without language", "```\n{\"decision\":\"yes\",\"score\":8}\n```"},
		{"prose wrapped", `Here is my assessment: {"decision":"yes","score":8} Let me know.`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var out reply
			require.NoError(t, ParseModelJSON(tc.raw, &out))
			assert.Equal(t, "yes", out.Decision)
			assert.Equal(t, 8, out.Score)
		})
	}
}

func TestParseModelJSONNoObject(t *testing.T) {
	var out map[string]any
	err := ParseModelJSON("I could not produce a decision.", &out)
	assert.Error(t, err)
}

func TestDefaultTemplatesParse(t *testing.T) {
	r := NewRenderer()
	for name, body := range map[string]string{
		NameQualification:  DefaultQualification,
		NameSequenceWriter: DefaultSequenceWriter,
		NameReviewer:       DefaultReviewer,
	} {
		_, err := r.engine.ParseString(body)
		require.NoError(t, err, "default template %s must parse", name)
		assert.True(t, strings.Contains(body, "{{"), "default template %s keeps placeholders", name)
	}
}
