package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"docbrief/internal/storage"
)

func seedMeeting(t *testing.T, store *storage.MemoryStore, userID, title string, attendees ...storage.Attendee) *storage.Meeting {
	t.Helper()
	start := time.Now().Add(24 * time.Hour)
	m, err := store.UpsertMeeting(context.Background(), &storage.Meeting{
		UserID:          userID,
		CalendarEventID: uuid.NewString(),
		Title:           title,
		StartTime:       start,
		EndTime:         start.Add(30 * time.Minute),
		Attendees:       attendees,
	})
	if err != nil {
		t.Fatalf("seed meeting: %v", err)
	}
	return m
}

func newBriefing(store *storage.MemoryStore, embedder *keywordEmbedder, gen *fakeGenerator) *BriefingService {
	return NewBriefingService(store, NewRetriever(embedder, store), NewSynthesizer(gen, gen))
}

func TestBriefQuery(t *testing.T) {
	m := &storage.Meeting{
		Title: "Roadmap review",
		Attendees: []storage.Attendee{
			{Email: "a@example.com", Name: "Ana"},
			{Email: "b@example.com"},
			{Email: "c@example.com", Name: "Cy"},
		},
	}
	if got := BriefQuery(m); got != "Roadmap review Ana, Cy" {
		t.Errorf("BriefQuery() = %q", got)
	}
	if got := BriefQuery(&storage.Meeting{Title: "Solo"}); got != "Solo" {
		t.Errorf("BriefQuery() = %q, want trimmed title", got)
	}
}

func TestPrepare_NoDocumentsStillPersists(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	m := seedMeeting(t, store, "u1", "1:1 with Sarah", storage.Attendee{Email: "sarah@example.com", Name: "Sarah", Role: "organizer"})

	gen := &fakeGenerator{response: "Likely topics: goals, feedback."}
	result, err := newBriefing(store, &keywordEmbedder{}, gen).Prepare(ctx, "u1", m.ID, false)
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	if result.Brief != "Likely topics: goals, feedback." {
		t.Errorf("brief = %q", result.Brief)
	}
	if result.RelevantDocuments == nil || len(result.RelevantDocuments) != 0 {
		t.Errorf("relevant_documents should be an empty list, got %v", result.RelevantDocuments)
	}
	if gen.calls != 1 {
		t.Errorf("generator calls = %d, want 1", gen.calls)
	}

	stored, _ := store.GetMeeting(ctx, "u1", m.ID)
	if stored.Brief == nil || stored.BriefGeneratedAt == nil {
		t.Fatalf("brief not persisted: %+v", stored)
	}
}

func TestPrepare_CachedUnlessRefresh(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seedChunk(t, store, "u1", "doc-roadmap", "Roadmap", "roadmap part one")
	m := seedMeeting(t, store, "u1", "Roadmap sync")

	gen := &fakeGenerator{response: "first brief"}
	svc := newBriefing(store, &keywordEmbedder{}, gen)

	first, err := svc.Prepare(ctx, "u1", m.ID, false)
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if len(first.RelevantDocuments) != 1 || first.RelevantDocuments[0].DocumentID != "doc-roadmap" {
		t.Fatalf("unexpected relevant documents: %+v", first.RelevantDocuments)
	}

	gen.response = "second brief"
	cached, err := svc.Prepare(ctx, "u1", m.ID, false)
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if !cached.Cached || cached.Brief != "first brief" {
		t.Errorf("expected cached first brief, got %+v", cached)
	}
	if len(cached.RelevantDocuments) != 1 || cached.RelevantDocuments[0].DocumentTitle != "Roadmap" {
		t.Errorf("cached documents not rebuilt: %+v", cached.RelevantDocuments)
	}
	if gen.calls != 1 {
		t.Errorf("cached call should not reach the model, calls = %d", gen.calls)
	}

	refreshed, err := svc.Prepare(ctx, "u1", m.ID, true)
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if refreshed.Cached || refreshed.Brief != "second brief" || gen.calls != 2 {
		t.Errorf("refresh did not regenerate: %+v calls=%d", refreshed, gen.calls)
	}
}

func TestPrepare_DeduplicatesDocuments(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	err := store.ReplaceDocument(ctx, "u1", "doc-roadmap", []*storage.DocumentChunk{
		{DocumentTitle: "Roadmap", ChunkIndex: 0, ChunkText: "a", Embedding: keywordVector("roadmap")},
		{DocumentTitle: "Roadmap", ChunkIndex: 1, ChunkText: "b", Embedding: keywordVector("roadmap")},
	})
	if err != nil {
		t.Fatal(err)
	}
	m := seedMeeting(t, store, "u1", "Roadmap planning")

	result, err := newBriefing(store, &keywordEmbedder{}, &fakeGenerator{response: "ok"}).Prepare(ctx, "u1", m.ID, false)
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if len(result.RelevantDocuments) != 1 {
		t.Errorf("expected one deduplicated document, got %+v", result.RelevantDocuments)
	}

	stored, _ := store.GetMeeting(ctx, "u1", m.ID)
	if len(stored.RelevantDocumentIDs) != 1 || stored.RelevantDocumentIDs[0] != "doc-roadmap" {
		t.Errorf("stored ids = %v", stored.RelevantDocumentIDs)
	}
}

func TestPrepare_EmbeddingFailureStillBriefs(t *testing.T) {
	store := storage.NewMemoryStore()
	m := seedMeeting(t, store, "u1", "Roadmap")
	gen := &fakeGenerator{response: "brief without docs"}

	result, err := newBriefing(store, &keywordEmbedder{fail: true}, gen).Prepare(context.Background(), "u1", m.ID, false)
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if result.Brief != "brief without docs" || len(result.RelevantDocuments) != 0 {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestPrepare_NotFound(t *testing.T) {
	store := storage.NewMemoryStore()
	m := seedMeeting(t, store, "owner", "Private")
	svc := newBriefing(store, &keywordEmbedder{}, &fakeGenerator{})

	if _, err := svc.Prepare(context.Background(), "intruder", m.ID, false); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound for another user's meeting, got %v", err)
	}
	if _, err := svc.Prepare(context.Background(), "owner", uuid.New(), false); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown meeting, got %v", err)
	}
}
