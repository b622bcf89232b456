package storage

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps everything in process memory. Tests use it in place of
// PostgresStore.
type MemoryStore struct {
	mu       sync.RWMutex
	seq      int64
	chunks   map[string][]*DocumentChunk // user -> chunks in insertion order
	meetings map[uuid.UUID]*Meeting
	tokens   map[string]*OAuthToken
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chunks:   make(map[string][]*DocumentChunk),
		meetings: make(map[uuid.UUID]*Meeting),
		tokens:   make(map[string]*OAuthToken),
	}
}

func (s *MemoryStore) ReplaceDocument(ctx context.Context, userID, documentID string, chunks []*DocumentChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.chunks[userID][:0:0]
	for _, c := range s.chunks[userID] {
		if c.DocumentID != documentID {
			kept = append(kept, c)
		}
	}

	for _, c := range chunks {
		s.seq++
		stored := *c
		stored.ID = s.seq
		stored.UserID = userID
		stored.DocumentID = documentID
		stored.CreatedAt = time.Now()
		if c.Embedding != nil {
			stored.Embedding = append([]float32(nil), c.Embedding...)
		}
		kept = append(kept, &stored)
	}

	s.chunks[userID] = kept
	return nil
}

func (s *MemoryStore) SimilaritySearch(ctx context.Context, userID string, embedding []float32, k int, threshold float64) ([]*ScoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*ScoredChunk
	for _, c := range s.chunks[userID] {
		if len(c.Embedding) == 0 {
			continue
		}
		sim, err := CosineSimilarity(embedding, c.Embedding)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", c.ID, err)
		}
		if sim < threshold {
			continue
		}
		results = append(results, &ScoredChunk{DocumentChunk: *c, Similarity: sim})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].ID < results[j].ID
	})

	if k >= 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (s *MemoryStore) CountsForUser(ctx context.Context, userID string) (ChunkStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make(map[string]struct{})
	for _, c := range s.chunks[userID] {
		docs[c.DocumentID] = struct{}{}
	}
	return ChunkStats{Chunks: len(s.chunks[userID]), Documents: len(docs)}, nil
}

func (s *MemoryStore) DeleteUserChunks(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := int64(len(s.chunks[userID]))
	delete(s.chunks, userID)
	return n, nil
}

func (s *MemoryStore) DocumentRefs(ctx context.Context, userID string, documentIDs []string) ([]DocumentRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byID := make(map[string]DocumentRef)
	for _, c := range s.chunks[userID] {
		if _, ok := byID[c.DocumentID]; !ok {
			byID[c.DocumentID] = DocumentRef{
				DocumentID:    c.DocumentID,
				DocumentTitle: c.DocumentTitle,
				DocumentURL:   c.DocumentURL,
			}
		}
	}
	return orderRefs(documentIDs, byID), nil
}

func (s *MemoryStore) UpsertMeeting(ctx context.Context, m *Meeting) (*Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.meetings {
		if existing.UserID == m.UserID && existing.CalendarEventID == m.CalendarEventID {
			existing.Title = m.Title
			existing.Description = m.Description
			existing.StartTime = m.StartTime
			existing.EndTime = m.EndTime
			existing.Attendees = append([]Attendee(nil), m.Attendees...)
			existing.MeetingURL = m.MeetingURL
			return copyMeeting(existing), nil
		}
	}

	stored := copyMeeting(m)
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	stored.Brief = nil
	stored.BriefGeneratedAt = nil
	stored.RelevantDocumentIDs = nil
	s.meetings[stored.ID] = stored
	return copyMeeting(stored), nil
}

func (s *MemoryStore) GetMeeting(ctx context.Context, userID string, id uuid.UUID) (*Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.meetings[id]
	if !ok || m.UserID != userID {
		return nil, ErrNotFound
	}
	return copyMeeting(m), nil
}

func (s *MemoryStore) ListUpcomingMeetings(ctx context.Context, userID string, from time.Time, limit int) ([]*Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Meeting
	for _, m := range s.meetings {
		if m.UserID == userID && !m.EndTime.Before(from) {
			out = append(out, copyMeeting(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) SaveBrief(ctx context.Context, userID string, id uuid.UUID, brief string, documentIDs []string, generatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.meetings[id]
	if !ok || m.UserID != userID {
		return ErrNotFound
	}
	m.Brief = &brief
	ts := generatedAt
	m.BriefGeneratedAt = &ts
	m.RelevantDocumentIDs = append([]string{}, documentIDs...)
	return nil
}

func tokenKey(userID, provider string) string {
	return userID + "\x00" + provider
}

func (s *MemoryStore) GetToken(ctx context.Context, userID, provider string) (*OAuthToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tokens[tokenKey(userID, provider)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) SaveToken(ctx context.Context, token *OAuthToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *token
	if existing, ok := s.tokens[tokenKey(token.UserID, token.Provider)]; ok && cp.RefreshToken == "" {
		cp.RefreshToken = existing.RefreshToken
	}
	s.tokens[tokenKey(token.UserID, token.Provider)] = &cp
	return nil
}

func (s *MemoryStore) ListUsersWithProvider(ctx context.Context, provider string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var users []string
	for _, t := range s.tokens {
		if t.Provider == provider {
			users = append(users, t.UserID)
		}
	}
	sort.Strings(users)
	return users, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func copyMeeting(m *Meeting) *Meeting {
	cp := *m
	cp.Attendees = append([]Attendee(nil), m.Attendees...)
	cp.RelevantDocumentIDs = append([]string(nil), m.RelevantDocumentIDs...)
	if m.Brief != nil {
		b := *m.Brief
		cp.Brief = &b
	}
	if m.BriefGeneratedAt != nil {
		t := *m.BriefGeneratedAt
		cp.BriefGeneratedAt = &t
	}
	return &cp
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// either vector has zero magnitude.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, fmt.Errorf("vectors cannot be empty")
	}
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same dimension: %d != %d", len(a), len(b))
	}

	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB)), nil
}
