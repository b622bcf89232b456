package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

// Document types recorded on every chunk.
const (
	DocTypeDoc     = "doc"
	DocTypeSheet   = "sheet"
	DocTypeSlide   = "slide"
	DocTypePDF     = "pdf"
	DocTypeUnknown = "unknown"
)

// DocumentChunk is one retrievable window of a Drive document's text.
type DocumentChunk struct {
	ID            int64             `json:"id"`
	UserID        string            `json:"user_id"`
	DocumentID    string            `json:"document_id"`
	DocumentTitle string            `json:"document_title"`
	DocumentType  string            `json:"document_type"`
	DocumentOwner string            `json:"document_owner,omitempty"`
	DocumentURL   string            `json:"document_url"`
	ChunkIndex    int               `json:"chunk_index"`
	ChunkText     string            `json:"chunk_text"`
	Embedding     []float32         `json:"embedding,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// ScoredChunk is a chunk returned by a similarity search.
type ScoredChunk struct {
	DocumentChunk
	Similarity float64 `json:"similarity"`
}

// ChunkStats backs the index status endpoint.
type ChunkStats struct {
	Chunks    int `json:"chunks"`
	Documents int `json:"documents"`
}

// DocumentRef identifies an indexed document without its text.
type DocumentRef struct {
	DocumentID    string `json:"document_id"`
	DocumentTitle string `json:"document_title"`
	DocumentURL   string `json:"document_url"`
}

type Attendee struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role"`
}

// DisplayName prefers the attendee's name and falls back to the email.
func (a Attendee) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.Email
}

type Meeting struct {
	ID                  uuid.UUID  `json:"id"`
	UserID              string     `json:"user_id"`
	CalendarEventID     string     `json:"calendar_event_id"`
	Title               string     `json:"title"`
	Description         string     `json:"description,omitempty"`
	StartTime           time.Time  `json:"start_time"`
	EndTime             time.Time  `json:"end_time"`
	Attendees           []Attendee `json:"attendees"`
	MeetingURL          string     `json:"meeting_url,omitempty"`
	Brief               *string    `json:"brief,omitempty"`
	BriefGeneratedAt    *time.Time `json:"brief_generated_at,omitempty"`
	RelevantDocumentIDs []string   `json:"relevant_document_ids,omitempty"`
}

// OAuthToken is a stored external credential for one user and provider.
type OAuthToken struct {
	UserID       string    `json:"user_id"`
	Provider     string    `json:"provider"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type ChunkStore interface {
	// ReplaceDocument deletes every chunk of (userID, documentID) and inserts chunks.
	ReplaceDocument(ctx context.Context, userID, documentID string, chunks []*DocumentChunk) error
	// SimilaritySearch returns at most k of the user's chunks scoring at least threshold,
	// highest first, ties broken by insertion order.
	SimilaritySearch(ctx context.Context, userID string, embedding []float32, k int, threshold float64) ([]*ScoredChunk, error)
	CountsForUser(ctx context.Context, userID string) (ChunkStats, error)
	DeleteUserChunks(ctx context.Context, userID string) (int64, error)
	DocumentRefs(ctx context.Context, userID string, documentIDs []string) ([]DocumentRef, error)
}

type MeetingStore interface {
	// UpsertMeeting inserts or updates on (user, calendar event id), keeping any stored brief.
	UpsertMeeting(ctx context.Context, m *Meeting) (*Meeting, error)
	GetMeeting(ctx context.Context, userID string, id uuid.UUID) (*Meeting, error)
	ListUpcomingMeetings(ctx context.Context, userID string, from time.Time, limit int) ([]*Meeting, error)
	SaveBrief(ctx context.Context, userID string, id uuid.UUID, brief string, documentIDs []string, generatedAt time.Time) error
}

type TokenStore interface {
	GetToken(ctx context.Context, userID, provider string) (*OAuthToken, error)
	SaveToken(ctx context.Context, token *OAuthToken) error
	ListUsersWithProvider(ctx context.Context, provider string) ([]string, error)
}

// Store is the full persistence surface used by the service bundle.
type Store interface {
	ChunkStore
	MeetingStore
	TokenStore
	Ping(ctx context.Context) error
	Close() error
}
