package storage

import (
	"context"
	"fmt"
	"math"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests need a scratch PostgreSQL with the pgvector extension available,
// e.g. TEST_DATABASE_URL=postgres://localhost/docbrief_test?sslmode=disable.
func newTestPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" || testing.Short() {
		t.Skip("TEST_DATABASE_URL not set")
	}
	store, err := NewPostgresStore(url, 3)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPostgres_ReplaceAndSearch(t *testing.T) {
	store := newTestPostgres(t)
	ctx := context.Background()
	user, other := uuid.NewString(), uuid.NewString()

	rows := func(n int) []*DocumentChunk {
		out := make([]*DocumentChunk, n)
		for i := range out {
			out[i] = &DocumentChunk{
				DocumentTitle: "Roadmap",
				DocumentType:  DocTypeDoc,
				DocumentURL:   "https://docs.google.com/document/d/doc1",
				ChunkIndex:    i,
				ChunkText:     "Document: Roadmap\n\nchunk",
				Embedding:     []float32{1, 0, 0},
				Metadata:      map[string]string{"source": "google_drive"},
			}
		}
		return out
	}

	require.NoError(t, store.ReplaceDocument(ctx, user, "doc1", rows(5)))
	require.NoError(t, store.ReplaceDocument(ctx, user, "doc1", rows(2)))
	require.NoError(t, store.ReplaceDocument(ctx, other, "doc9", []*DocumentChunk{{
		DocumentTitle: "Secret", DocumentType: DocTypeDoc, DocumentURL: "u", ChunkText: "x", Embedding: []float32{1, 0, 0},
	}}))
	require.NoError(t, store.ReplaceDocument(ctx, user, "doc2", []*DocumentChunk{{
		DocumentTitle: "Unembedded", DocumentType: DocTypePDF, DocumentURL: "u", ChunkText: "y",
	}}))

	stats, err := store.CountsForUser(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, ChunkStats{Chunks: 3, Documents: 2}, stats)

	results, err := store.SimilaritySearch(ctx, user, []float32{1, 0, 0}, 10, 0.3)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, user, r.UserID)
		assert.Equal(t, "doc1", r.DocumentID)
		assert.InDelta(t, 1.0, r.Similarity, 1e-6)
		assert.Equal(t, "google_drive", r.Metadata["source"])
	}
	assert.Less(t, results[0].ID, results[1].ID)

	refs, err := store.DocumentRefs(ctx, user, []string{"doc2", "doc1", "missing"})
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "doc2", refs[0].DocumentID)

	deleted, err := store.DeleteUserChunks(ctx, user)
	require.NoError(t, err)
	assert.EqualValues(t, 3, deleted)
}

func TestPostgres_SearchReturnsEveryQualifyingChunk(t *testing.T) {
	store := newTestPostgres(t)
	ctx := context.Background()

	var exists bool
	require.NoError(t, store.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_chunks_embedding')").Scan(&exists))
	assert.False(t, exists, "search must not go through an approximate index")

	user := uuid.NewString()
	// Other users' rows spread across the vector space around the target user's.
	for u := 0; u < 5; u++ {
		other := uuid.NewString()
		chunks := make([]*DocumentChunk, 40)
		for i := range chunks {
			angle := float64(u*40+i) * 0.05
			chunks[i] = &DocumentChunk{
				DocumentTitle: "Noise",
				DocumentType:  DocTypeDoc,
				DocumentURL:   "u",
				ChunkIndex:    i,
				ChunkText:     "n",
				Embedding:     []float32{float32(math.Cos(angle)), float32(math.Sin(angle)), 0.2},
			}
		}
		require.NoError(t, store.ReplaceDocument(ctx, other, "noise", chunks))
	}

	mine := make([]*DocumentChunk, 12)
	for i := range mine {
		angle := float64(i) * 0.5
		mine[i] = &DocumentChunk{
			DocumentTitle: fmt.Sprintf("Mine %d", i),
			DocumentType:  DocTypeDoc,
			DocumentURL:   "u",
			ChunkIndex:    i,
			ChunkText:     "m",
			Embedding:     []float32{float32(math.Cos(angle)), float32(math.Sin(angle)), 1},
		}
	}
	require.NoError(t, store.ReplaceDocument(ctx, user, "mine", mine))

	results, err := store.SimilaritySearch(ctx, user, []float32{0, 0, 1}, 10, 0.5)
	require.NoError(t, err)
	assert.Len(t, results, 10)
	for _, r := range results {
		assert.Equal(t, user, r.UserID)
		assert.GreaterOrEqual(t, r.Similarity, 0.5)
	}
}

func TestPostgres_MeetingsAndTokens(t *testing.T) {
	store := newTestPostgres(t)
	ctx := context.Background()
	user := uuid.NewString()
	start := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	m, err := store.UpsertMeeting(ctx, &Meeting{
		UserID:          user,
		CalendarEventID: "evt1",
		Title:           "Roadmap review",
		StartTime:       start,
		EndTime:         start.Add(time.Hour),
		Attendees:       []Attendee{{Email: "ana@example.com", Name: "Ana", Role: "organizer"}},
	})
	require.NoError(t, err)

	require.NoError(t, store.SaveBrief(ctx, user, m.ID, "brief", []string{"doc1"}, time.Now()))

	again, err := store.UpsertMeeting(ctx, &Meeting{UserID: user, CalendarEventID: "evt1", Title: "Renamed", StartTime: start, EndTime: start.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, m.ID, again.ID)
	assert.Equal(t, "Renamed", again.Title)
	require.NotNil(t, again.Brief, "re-sync keeps the brief")
	assert.Equal(t, []string{"doc1"}, again.RelevantDocumentIDs)

	_, err = store.GetMeeting(ctx, uuid.NewString(), m.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.SaveBrief(ctx, "intruder", m.ID, "x", nil, time.Now()), ErrNotFound)

	upcoming, err := store.ListUpcomingMeetings(ctx, user, time.Now(), 10)
	require.NoError(t, err)
	assert.Len(t, upcoming, 1)

	require.NoError(t, store.SaveToken(ctx, &OAuthToken{UserID: user, Provider: "google", AccessToken: "a1", RefreshToken: "r1", ExpiresAt: start}))
	require.NoError(t, store.SaveToken(ctx, &OAuthToken{UserID: user, Provider: "google", AccessToken: "a2", ExpiresAt: start}))
	tok, err := store.GetToken(ctx, user, "google")
	require.NoError(t, err)
	assert.Equal(t, "a2", tok.AccessToken)
	assert.Equal(t, "r1", tok.RefreshToken)

	users, err := store.ListUsersWithProvider(ctx, "google")
	require.NoError(t, err)
	assert.Contains(t, users, user)
}
