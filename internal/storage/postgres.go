package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"docbrief/internal/metrics"
)

type PostgresStore struct {
	db         *sql.DB
	dimensions int
}

func NewPostgresStore(databaseURL string, dimensions int) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &PostgresStore{db: db, dimensions: dimensions}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) initSchema() error {
	slog.Info("Initializing database schema")

	if _, err := s.db.Exec("CREATE EXTENSION IF NOT EXISTS vector;"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	tables := []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS document_chunks (
			id BIGSERIAL PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			document_id VARCHAR(255) NOT NULL,
			document_title TEXT NOT NULL,
			document_type VARCHAR(16) NOT NULL,
			document_owner VARCHAR(320),
			document_url TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			chunk_text TEXT NOT NULL,
			embedding vector(%d),
			metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			UNIQUE (user_id, document_id, chunk_index)
		);`, s.dimensions),
		`
		CREATE TABLE IF NOT EXISTS meetings (
			id UUID PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			calendar_event_id VARCHAR(255) NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			start_time TIMESTAMP WITH TIME ZONE NOT NULL,
			end_time TIMESTAMP WITH TIME ZONE NOT NULL,
			attendees JSONB NOT NULL DEFAULT '[]',
			meeting_url TEXT,
			brief TEXT,
			brief_generated_at TIMESTAMP WITH TIME ZONE,
			relevant_document_ids TEXT[] NOT NULL DEFAULT '{}',
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			UNIQUE (user_id, calendar_event_id)
		);`,
		`
		CREATE TABLE IF NOT EXISTS oauth_tokens (
			user_id VARCHAR(255) NOT NULL,
			provider VARCHAR(32) NOT NULL,
			access_token TEXT NOT NULL,
			refresh_token TEXT,
			expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			PRIMARY KEY (user_id, provider)
		);`,
	}
	for _, ddl := range tables {
		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_chunks_user ON document_chunks(user_id);",
		"CREATE INDEX IF NOT EXISTS idx_chunks_user_document ON document_chunks(user_id, document_id);",
		"CREATE INDEX IF NOT EXISTS idx_meetings_user_start ON meetings(user_id, start_time);",
	}
	for _, indexSQL := range indexes {
		if _, err := s.db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	// Similarity search is an exact scan of the user's rows. Older schemas
	// carried an approximate index that filtered by user after the scan.
	if _, err := s.db.Exec(dropVectorIndexSQL); err != nil {
		return fmt.Errorf("failed to drop vector index: %w", err)
	}

	slog.Info("Database schema initialization completed")
	return nil
}

func observe(operation string, start time.Time, errp *error) {
	metrics.DatabaseOperations.WithLabelValues(operation, metrics.StatusLabel(*errp)).Inc()
	metrics.DatabaseOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (s *PostgresStore) ReplaceDocument(ctx context.Context, userID, documentID string, chunks []*DocumentChunk) (err error) {
	defer observe("replace_document", time.Now(), &err)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`DELETE FROM document_chunks WHERE user_id = $1 AND document_id = $2`,
		userID, documentID,
	); err != nil {
		return fmt.Errorf("failed to delete existing chunks: %w", err)
	}

	insert := `
		INSERT INTO document_chunks (
			user_id, document_id, document_title, document_type, document_owner,
			document_url, chunk_index, chunk_text, embedding, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	for _, chunk := range chunks {
		var embeddingVector interface{}
		if len(chunk.Embedding) > 0 {
			embeddingVector = pgvector.NewVector(chunk.Embedding)
		}

		metadata, merr := json.Marshal(chunk.Metadata)
		if merr != nil {
			err = fmt.Errorf("failed to encode metadata: %w", merr)
			return err
		}

		if _, err = tx.ExecContext(ctx, insert,
			userID,
			documentID,
			chunk.DocumentTitle,
			chunk.DocumentType,
			nullString(chunk.DocumentOwner),
			chunk.DocumentURL,
			chunk.ChunkIndex,
			chunk.ChunkText,
			embeddingVector,
			string(metadata),
		); err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", chunk.ChunkIndex, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit document replace: %w", err)
	}
	return nil
}

func (s *PostgresStore) SimilaritySearch(ctx context.Context, userID string, embedding []float32, k int, threshold float64) (_ []*ScoredChunk, err error) {
	defer observe("similarity_search", time.Now(), &err)

	query := `
		SELECT id, user_id, document_id, document_title, document_type,
			   COALESCE(document_owner, ''), document_url, chunk_index, chunk_text,
			   metadata, created_at, 1 - (embedding <=> $2) AS similarity
		FROM document_chunks
		WHERE user_id = $1
		  AND embedding IS NOT NULL
		  AND 1 - (embedding <=> $2) >= $3
		ORDER BY embedding <=> $2, id ASC
		LIMIT $4
	`

	rows, err := s.db.QueryContext(ctx, query, userID, pgvector.NewVector(embedding), threshold, k)
	if err != nil {
		return nil, fmt.Errorf("failed to search similar chunks: %w", err)
	}
	defer rows.Close()

	var results []*ScoredChunk
	for rows.Next() {
		sc := &ScoredChunk{}
		var metadata []byte

		err = rows.Scan(
			&sc.ID,
			&sc.UserID,
			&sc.DocumentID,
			&sc.DocumentTitle,
			&sc.DocumentType,
			&sc.DocumentOwner,
			&sc.DocumentURL,
			&sc.ChunkIndex,
			&sc.ChunkText,
			&metadata,
			&sc.CreatedAt,
			&sc.Similarity,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		if len(metadata) > 0 {
			if err = json.Unmarshal(metadata, &sc.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode chunk metadata: %w", err)
			}
		}

		results = append(results, sc)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chunks: %w", err)
	}
	return results, nil
}

func (s *PostgresStore) CountsForUser(ctx context.Context, userID string) (stats ChunkStats, err error) {
	defer observe("counts_for_user", time.Now(), &err)

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT document_id) FROM document_chunks WHERE user_id = $1`,
		userID,
	).Scan(&stats.Chunks, &stats.Documents)
	if err != nil {
		return ChunkStats{}, fmt.Errorf("failed to count chunks: %w", err)
	}
	return stats, nil
}

func (s *PostgresStore) DeleteUserChunks(ctx context.Context, userID string) (_ int64, err error) {
	defer observe("delete_user_chunks", time.Now(), &err)

	res, err := s.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	return res.RowsAffected()
}

func (s *PostgresStore) DocumentRefs(ctx context.Context, userID string, documentIDs []string) (_ []DocumentRef, err error) {
	defer observe("document_refs", time.Now(), &err)

	if len(documentIDs) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (document_id) document_id, document_title, document_url
		FROM document_chunks
		WHERE user_id = $1 AND document_id = ANY($2)
		ORDER BY document_id, chunk_index
	`, userID, pq.Array(documentIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to load document refs: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]DocumentRef)
	for rows.Next() {
		var ref DocumentRef
		if err = rows.Scan(&ref.DocumentID, &ref.DocumentTitle, &ref.DocumentURL); err != nil {
			return nil, fmt.Errorf("failed to scan document ref: %w", err)
		}
		byID[ref.DocumentID] = ref
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	return orderRefs(documentIDs, byID), nil
}

func (s *PostgresStore) UpsertMeeting(ctx context.Context, m *Meeting) (_ *Meeting, err error) {
	defer observe("upsert_meeting", time.Now(), &err)

	attendees, err := json.Marshal(m.Attendees)
	if err != nil {
		return nil, fmt.Errorf("failed to encode attendees: %w", err)
	}

	id := m.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	query := `
		INSERT INTO meetings (
			id, user_id, calendar_event_id, title, description,
			start_time, end_time, attendees, meeting_url
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, calendar_event_id)
		DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			attendees = EXCLUDED.attendees,
			meeting_url = EXCLUDED.meeting_url,
			updated_at = NOW()
		RETURNING id
	`

	var storedID uuid.UUID
	err = s.db.QueryRowContext(ctx, query,
		id,
		m.UserID,
		m.CalendarEventID,
		m.Title,
		nullString(m.Description),
		m.StartTime,
		m.EndTime,
		string(attendees),
		nullString(m.MeetingURL),
	).Scan(&storedID)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert meeting: %w", err)
	}

	return s.GetMeeting(ctx, m.UserID, storedID)
}

const dropVectorIndexSQL = "DROP INDEX IF EXISTS idx_chunks_embedding;"

const meetingColumns = `
	id, user_id, calendar_event_id, title, COALESCE(description, ''),
	start_time, end_time, attendees, COALESCE(meeting_url, ''),
	brief, brief_generated_at, relevant_document_ids
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeeting(row rowScanner) (*Meeting, error) {
	m := &Meeting{}
	var attendees []byte
	var brief sql.NullString
	var generatedAt sql.NullTime
	var docIDs pq.StringArray

	err := row.Scan(
		&m.ID,
		&m.UserID,
		&m.CalendarEventID,
		&m.Title,
		&m.Description,
		&m.StartTime,
		&m.EndTime,
		&attendees,
		&m.MeetingURL,
		&brief,
		&generatedAt,
		&docIDs,
	)
	if err != nil {
		return nil, err
	}

	if len(attendees) > 0 {
		if err := json.Unmarshal(attendees, &m.Attendees); err != nil {
			return nil, fmt.Errorf("failed to decode attendees: %w", err)
		}
	}
	if brief.Valid {
		m.Brief = &brief.String
	}
	if generatedAt.Valid {
		m.BriefGeneratedAt = &generatedAt.Time
	}
	m.RelevantDocumentIDs = []string(docIDs)
	return m, nil
}

func (s *PostgresStore) GetMeeting(ctx context.Context, userID string, id uuid.UUID) (_ *Meeting, err error) {
	defer observe("get_meeting", time.Now(), &err)

	row := s.db.QueryRowContext(ctx,
		`SELECT `+meetingColumns+` FROM meetings WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	m, err := scanMeeting(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get meeting: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) ListUpcomingMeetings(ctx context.Context, userID string, from time.Time, limit int) (_ []*Meeting, err error) {
	defer observe("list_meetings", time.Now(), &err)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+meetingColumns+` FROM meetings
		 WHERE user_id = $1 AND end_time >= $2
		 ORDER BY start_time ASC
		 LIMIT $3`,
		userID, from, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list meetings: %w", err)
	}
	defer rows.Close()

	var meetings []*Meeting
	for rows.Next() {
		m, serr := scanMeeting(rows)
		if serr != nil {
			err = fmt.Errorf("failed to scan meeting: %w", serr)
			return nil, err
		}
		meetings = append(meetings, m)
	}
	return meetings, rows.Err()
}

func (s *PostgresStore) SaveBrief(ctx context.Context, userID string, id uuid.UUID, brief string, documentIDs []string, generatedAt time.Time) (err error) {
	defer observe("save_brief", time.Now(), &err)

	if documentIDs == nil {
		documentIDs = []string{}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE meetings
		SET brief = $1, brief_generated_at = $2, relevant_document_ids = $3, updated_at = NOW()
		WHERE id = $4 AND user_id = $5
	`, brief, generatedAt, pq.Array(documentIDs), id, userID)
	if err != nil {
		return fmt.Errorf("failed to save brief: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetToken(ctx context.Context, userID, provider string) (_ *OAuthToken, err error) {
	defer observe("get_token", time.Now(), &err)

	t := &OAuthToken{UserID: userID, Provider: provider}
	var refresh sql.NullString
	err = s.db.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, expires_at FROM oauth_tokens WHERE user_id = $1 AND provider = $2`,
		userID, provider,
	).Scan(&t.AccessToken, &refresh, &t.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	t.RefreshToken = refresh.String
	return t, nil
}

func (s *PostgresStore) SaveToken(ctx context.Context, token *OAuthToken) (err error) {
	defer observe("save_token", time.Now(), &err)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO oauth_tokens (user_id, provider, access_token, refresh_token, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, provider)
		DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = COALESCE(EXCLUDED.refresh_token, oauth_tokens.refresh_token),
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()
	`, token.UserID, token.Provider, token.AccessToken, nullString(token.RefreshToken), token.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListUsersWithProvider(ctx context.Context, provider string) (_ []string, err error) {
	defer observe("list_token_users", time.Now(), &err)

	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM oauth_tokens WHERE provider = $1 ORDER BY user_id`, provider)
	if err != nil {
		return nil, fmt.Errorf("failed to list token users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err = rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func orderRefs(ids []string, byID map[string]DocumentRef) []DocumentRef {
	refs := make([]DocumentRef, 0, len(ids))
	for _, id := range ids {
		if ref, ok := byID[id]; ok {
			refs = append(refs, ref)
		}
	}
	return refs
}
