package services

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// keywordEmbedder maps text to a vector by keyword so similarity is predictable.
type keywordEmbedder struct {
	fail  bool
	calls int
}

var keywords = []string{"roadmap", "budget", "hiring"}

func (e *keywordEmbedder) EmbedBatch(ctx context.Context, texts []string) [][]float32 {
	e.calls++
	out := make([][]float32, len(texts))
	if e.fail {
		return out
	}
	for i, t := range texts {
		out[i] = keywordVector(t)
	}
	return out
}

func keywordVector(text string) []float32 {
	lower := strings.ToLower(text)
	v := make([]float32, len(keywords)+1)
	v[len(keywords)] = 0.1
	for i, k := range keywords {
		if strings.Contains(lower, k) {
			v[i] = 1
		}
	}
	return v
}

type fakeGenerator struct {
	mu       sync.Mutex
	response string
	err      error
	calls    int
	system   string
	user     string
}

func (g *fakeGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.system = systemPrompt
	g.user = userPrompt
	if g.err != nil {
		return "", g.err
	}
	return g.response, nil
}

var errUpstream = errors.New("upstream unavailable")
