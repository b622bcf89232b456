package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"docbrief/internal/storage"
)

func scored(title, text string, sim float64) *storage.ScoredChunk {
	return &storage.ScoredChunk{
		DocumentChunk: storage.DocumentChunk{DocumentID: title, DocumentTitle: title, ChunkText: text},
		Similarity:    sim,
	}
}

func TestBuildContext_RankOrderAndDelimiters(t *testing.T) {
	got := BuildContext([]*storage.ScoredChunk{
		scored("First", "alpha", 0.9),
		scored("Second", "beta", 0.5),
	})
	want := "[Document: First]\nalpha\n\n---\n\n[Document: Second]\nbeta"
	if got != want {
		t.Errorf("BuildContext() = %q, want %q", got, want)
	}
}

func TestSynthesizerAnswer_PromptShape(t *testing.T) {
	gen := &fakeGenerator{response: "answer"}
	s := NewSynthesizer(gen, nil)

	got := s.Answer(context.Background(), "what ships?", []*storage.ScoredChunk{scored("Plan", "ships in Q3", 0.8)})
	if got != "answer" {
		t.Errorf("Answer() = %q", got)
	}
	if !strings.HasPrefix(gen.user, `Based on the following document chunks, answer this question: "what ships?"`) {
		t.Errorf("unexpected user prompt: %q", gen.user)
	}
	if !strings.Contains(gen.system, "ONLY on the provided document chunks") {
		t.Errorf("system prompt does not restrict to context: %q", gen.system)
	}
}

func TestSynthesizerBrief_NoDocuments(t *testing.T) {
	answers := &fakeGenerator{response: "unused"}
	briefs := &fakeGenerator{response: "Topics: career growth"}
	s := NewSynthesizer(answers, briefs)

	start := time.Date(2026, 10, 20, 10, 0, 0, 0, time.UTC)
	m := &storage.Meeting{
		Title:     "1:1 with Sarah",
		StartTime: start,
		EndTime:   start.Add(30 * time.Minute),
		Attendees: []storage.Attendee{
			{Email: "sarah@example.com", Name: "Sarah", Role: "organizer"},
			{Email: "me@example.com", Role: "attendee"},
		},
	}

	if got := s.Brief(context.Background(), m, nil); got != "Topics: career growth" {
		t.Errorf("Brief() = %q", got)
	}
	if answers.calls != 0 || briefs.calls != 1 {
		t.Errorf("expected only the brief generator to run, got answers=%d briefs=%d", answers.calls, briefs.calls)
	}

	for _, want := range []string{
		"Meeting: 1:1 with Sarah",
		"Time: 2026-10-20T10:00:00Z to 2026-10-20T10:30:00Z",
		"Attendees: Sarah (organizer), me@example.com (attendee)",
		"Description: No description",
		"Relevant documents:\n\nNo relevant documents found.",
	} {
		if !strings.Contains(briefs.user, want) {
			t.Errorf("brief prompt missing %q:\n%s", want, briefs.user)
		}
	}
}

func TestSynthesizerBrief_Fallback(t *testing.T) {
	gen := &fakeGenerator{err: errUpstream}
	s := NewSynthesizer(gen, gen)
	if got := s.Brief(context.Background(), &storage.Meeting{Title: "x"}, nil); got != FallbackBrief {
		t.Errorf("Brief() = %q, want fallback", got)
	}
}
