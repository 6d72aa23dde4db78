package build

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgraphsvc.evalgo.org/atom"
	"kgraphsvc.evalgo.org/config"
)

type fakeExtractor struct {
	responses    []string
	calls        int
	systemPrompt string
}

func (f *fakeExtractor) ExtractJSON(_ context.Context, systemPrompt string, prompts []string) ([]string, error) {
	f.calls++
	f.systemPrompt = systemPrompt
	out := make([]string, len(prompts))
	for i := range prompts {
		if i < len(f.responses) {
			out[i] = f.responses[i]
		} else {
			out[i] = `{"atomic_fact": []}`
		}
	}
	return out, nil
}

func (f *fakeExtractor) Embed(_ context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = []float64{1, 0}
	}
	return out, nil
}

func TestGenerateVersion_IsUnixMillis(t *testing.T) {
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "1785456000000", generateVersion(now))
}

func TestParseAtomicFactBlock_TrimsAndDropsBlank(t *testing.T) {
	facts, err := parseAtomicFactBlock(`{"atomic_fact": [" Alice joined Acme. ", "", "  "]}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice joined Acme."}, facts)
}

func TestParseAtomicFactBlock_EmptyInputIsNoop(t *testing.T) {
	facts, err := parseAtomicFactBlock("")
	require.NoError(t, err)
	assert.Nil(t, facts)
}

func TestParseAtomicFactBlock_InvalidJSONErrors(t *testing.T) {
	_, err := parseAtomicFactBlock("not json")
	assert.Error(t, err)
}

func TestExtractAtomicFacts_SkipsBlankTexts(t *testing.T) {
	ex := &fakeExtractor{responses: []string{`{"atomic_fact": ["Alice joined Acme."]}`}}
	s := &Service{
		cfg:     config.AppConfig{Output: config.OutputConfig{Language: "en"}},
		builder: atom.NewBuilder(ex),
	}

	facts, err := s.extractAtomicFacts(t.Context(), []string{"  ", "Alice joined Acme."}, "2026-07-31T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice joined Acme."}, facts)
	assert.Equal(t, 1, ex.calls)
}

func TestExtractAtomicFacts_UsesChinesePromptForZHSourceMode(t *testing.T) {
	ex := &fakeExtractor{responses: []string{`{"atomic_fact": []}`}}
	s := &Service{
		cfg: config.AppConfig{
			Output: config.OutputConfig{Language: "zh"},
			Atom:   config.AtomConfig{EntityNameMode: "source"},
		},
		builder: atom.NewBuilder(ex),
	}

	_, err := s.extractAtomicFacts(t.Context(), []string{"text"}, "2026-07-31T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, 1, ex.calls)
	assert.Equal(t, fmt.Sprintf(atomicFactSystemPromptZH, "2026-07-31T00:00:00Z"), ex.systemPrompt)
}

func TestAtomOptions_DerivesFromConfig(t *testing.T) {
	s := &Service{
		cfg: config.AppConfig{
			Atom: config.AtomConfig{
				EntThreshold:   0.8,
				EntityNameMode: "source",
			},
			Output: config.OutputConfig{Language: "zh"},
		},
	}
	opts := s.atomOptions()
	assert.Equal(t, 0.8, opts.EntThreshold)
	assert.True(t, opts.RequireSameEntityLabel)
	assert.Equal(t, "zh", opts.OutputLanguage)
}
