package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"docbrief/internal/storage"
)

const (
	NotFoundAnswer      = "I couldn't find any relevant documents matching your query."
	FallbackAnswer      = "I couldn't generate an answer at this time."
	FallbackBrief       = "Unable to generate brief at this time."
	noDocumentsForBrief = "No relevant documents found."
	contextSeparator    = "\n\n---\n\n"
)

const searchSystemPrompt = "You are a helpful document search assistant for Product Managers. " +
	"Answer the user's question based ONLY on the provided document chunks. " +
	"If the information is not in the chunks, say 'I couldn't find this in your documents.' " +
	"Always cite which document each piece of information comes from. Be concise and direct."

const briefSystemPrompt = "You are a meeting preparation assistant for Product Managers. " +
	"Generate a concise meeting brief based on the meeting details and relevant documents provided. " +
	"Include: 1) Meeting overview (title, time, attendees), " +
	"2) Likely discussion topics based on the meeting title and recent documents, " +
	"3) Key context from relevant documents that the PM should review before the meeting. " +
	"If no relevant documents are found, suggest what topics might come up based on the meeting title and attendees. " +
	"Be concise and actionable."

// BuildContext labels each chunk with its document title, in rank order.
func BuildContext(chunks []*storage.ScoredChunk) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = fmt.Sprintf("[Document: %s]\n%s", c.DocumentTitle, c.ChunkText)
	}
	return strings.Join(parts, contextSeparator)
}

// Synthesizer turns retrieved chunks into a grounded answer or meeting brief.
// Generation failures degrade to fixed fallback text.
type Synthesizer struct {
	answers Generator
	briefs  Generator
}

func NewSynthesizer(answers, briefs Generator) *Synthesizer {
	if briefs == nil {
		briefs = answers
	}
	return &Synthesizer{answers: answers, briefs: briefs}
}

// Answer makes no model call when chunks is empty.
func (s *Synthesizer) Answer(ctx context.Context, query string, chunks []*storage.ScoredChunk) string {
	if len(chunks) == 0 {
		return NotFoundAnswer
	}

	userPrompt := fmt.Sprintf("Based on the following document chunks, answer this question: \"%s\"\n\n%s",
		query, BuildContext(chunks))

	answer, err := s.answers.Generate(ctx, searchSystemPrompt, userPrompt)
	if err != nil {
		slog.Error("Answer generation failed", "error", err)
		return FallbackAnswer
	}
	return answer
}

// Brief always calls the model, with or without supporting documents.
func (s *Synthesizer) Brief(ctx context.Context, m *storage.Meeting, chunks []*storage.ScoredChunk) string {
	docs := noDocumentsForBrief
	if len(chunks) > 0 {
		docs = BuildContext(chunks)
	}

	userPrompt := fmt.Sprintf("Generate a meeting brief for the following meeting:\n\n%s\n\nRelevant documents:\n\n%s",
		MeetingContext(m), docs)

	brief, err := s.briefs.Generate(ctx, briefSystemPrompt, userPrompt)
	if err != nil {
		slog.Error("Brief generation failed", "meeting_id", m.ID, "error", err)
		return FallbackBrief
	}
	return brief
}

// MeetingContext describes a meeting for the brief prompt.
func MeetingContext(m *storage.Meeting) string {
	attendees := make([]string, len(m.Attendees))
	for i, a := range m.Attendees {
		attendees[i] = fmt.Sprintf("%s (%s)", a.DisplayName(), a.Role)
	}

	description := m.Description
	if description == "" {
		description = "No description"
	}

	return fmt.Sprintf("Meeting: %s\nTime: %s to %s\nAttendees: %s\nDescription: %s",
		m.Title,
		m.StartTime.Format(time.RFC3339),
		m.EndTime.Format(time.RFC3339),
		strings.Join(attendees, ", "),
		description,
	)
}
