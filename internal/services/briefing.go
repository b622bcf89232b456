package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"docbrief/internal/metrics"
	"docbrief/internal/storage"
)

type RelevantDocument struct {
	DocumentID    string  `json:"document_id"`
	DocumentTitle string  `json:"document_title"`
	DocumentURL   string  `json:"document_url"`
	Similarity    float64 `json:"similarity"`
}

type BriefResult struct {
	MeetingID         uuid.UUID          `json:"meeting_id"`
	Title             string             `json:"title"`
	StartTime         time.Time          `json:"start_time"`
	Attendees         []storage.Attendee `json:"attendees"`
	Brief             string             `json:"brief"`
	RelevantDocuments []RelevantDocument `json:"relevant_documents"`
	GeneratedAt       time.Time          `json:"brief_generated_at"`
	Cached            bool               `json:"cached"`
}

type briefStore interface {
	GetMeeting(ctx context.Context, userID string, id uuid.UUID) (*storage.Meeting, error)
	SaveBrief(ctx context.Context, userID string, id uuid.UUID, brief string, documentIDs []string, generatedAt time.Time) error
	DocumentRefs(ctx context.Context, userID string, documentIDs []string) ([]storage.DocumentRef, error)
}

// BriefingService composes and caches meeting briefs.
type BriefingService struct {
	store       briefStore
	retriever   *Retriever
	synthesizer *Synthesizer
	now         func() time.Time
}

func NewBriefingService(store briefStore, retriever *Retriever, synthesizer *Synthesizer) *BriefingService {
	return &BriefingService{
		store:       store,
		retriever:   retriever,
		synthesizer: synthesizer,
		now:         time.Now,
	}
}

// BriefQuery derives the retrieval query from the meeting title and attendee names.
func BriefQuery(m *storage.Meeting) string {
	var names []string
	for _, a := range m.Attendees {
		if a.Name != "" {
			names = append(names, a.Name)
		}
	}
	return strings.TrimSpace(m.Title + " " + strings.Join(names, ", "))
}

// Prepare returns the stored brief unless refresh is set or none exists yet.
// A meeting that is missing or owned by someone else yields storage.ErrNotFound.
func (b *BriefingService) Prepare(ctx context.Context, userID string, meetingID uuid.UUID, refresh bool) (*BriefResult, error) {
	meeting, err := b.store.GetMeeting(ctx, userID, meetingID)
	if err != nil {
		return nil, err
	}

	if meeting.Brief != nil && !refresh {
		metrics.BriefsGenerated.WithLabelValues("cached").Inc()
		return b.cached(ctx, userID, meeting)
	}

	query := BriefQuery(meeting)
	var chunks []*storage.ScoredChunk
	retrieval, err := b.retriever.Retrieve(ctx, userID, query, BriefDefaults)
	switch {
	case err != nil:
		slog.Error("Brief retrieval failed", "meeting_id", meetingID, "error", err)
	case retrieval.Status == RetrievalNoEmbedding:
		slog.Warn("Brief query could not be embedded", "meeting_id", meetingID)
	default:
		chunks = retrieval.Chunks
	}

	brief := b.synthesizer.Brief(ctx, meeting, chunks)
	docs := dedupeDocuments(chunks)

	docIDs := make([]string, len(docs))
	for i, d := range docs {
		docIDs[i] = d.DocumentID
	}

	generatedAt := b.now().UTC()
	if err := b.store.SaveBrief(ctx, userID, meetingID, brief, docIDs, generatedAt); err != nil {
		metrics.BriefsGenerated.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("save brief: %w", err)
	}
	metrics.BriefsGenerated.WithLabelValues("generated").Inc()

	return &BriefResult{
		MeetingID:         meeting.ID,
		Title:             meeting.Title,
		StartTime:         meeting.StartTime,
		Attendees:         meeting.Attendees,
		Brief:             brief,
		RelevantDocuments: docs,
		GeneratedAt:       generatedAt,
	}, nil
}

func (b *BriefingService) cached(ctx context.Context, userID string, m *storage.Meeting) (*BriefResult, error) {
	refs, err := b.store.DocumentRefs(ctx, userID, m.RelevantDocumentIDs)
	if err != nil {
		return nil, fmt.Errorf("load brief documents: %w", err)
	}

	docs := make([]RelevantDocument, len(refs))
	for i, r := range refs {
		docs[i] = RelevantDocument{DocumentID: r.DocumentID, DocumentTitle: r.DocumentTitle, DocumentURL: r.DocumentURL}
	}

	result := &BriefResult{
		MeetingID:         m.ID,
		Title:             m.Title,
		StartTime:         m.StartTime,
		Attendees:         m.Attendees,
		Brief:             *m.Brief,
		RelevantDocuments: docs,
		Cached:            true,
	}
	if m.BriefGeneratedAt != nil {
		result.GeneratedAt = *m.BriefGeneratedAt
	}
	return result, nil
}

// dedupeDocuments keeps the first (highest ranked) chunk of each document.
func dedupeDocuments(chunks []*storage.ScoredChunk) []RelevantDocument {
	seen := make(map[string]bool)
	docs := make([]RelevantDocument, 0, len(chunks))
	for _, c := range chunks {
		if seen[c.DocumentID] {
			continue
		}
		seen[c.DocumentID] = true
		docs = append(docs, RelevantDocument{
			DocumentID:    c.DocumentID,
			DocumentTitle: c.DocumentTitle,
			DocumentURL:   c.DocumentURL,
			Similarity:    c.Similarity,
		})
	}
	return docs
}
