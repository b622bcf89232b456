package indexing

import (
	"errors"
	"strings"
	"testing"
)

func intPtr(v int) *int { return &v }

func TestChunk_CoverageAndOverlap(t *testing.T) {
	tests := []struct {
		name       string
		textLen    int
		params     Params
		wantChunks int
	}{
		{name: "shorter than window", textLen: 100, params: Params{Size: 1600, Overlap: 400}, wantChunks: 1},
		{name: "exact window", textLen: 1600, params: Params{Size: 1600, Overlap: 400}, wantChunks: 1},
		{name: "two windows", textLen: 2000, params: Params{Size: 1600, Overlap: 400}, wantChunks: 2},
		{name: "many windows", textLen: 5000, params: Params{Size: 1600, Overlap: 400}, wantChunks: 4},
		{name: "no overlap", textLen: 30, params: Params{Size: 10, Overlap: 0}, wantChunks: 3},
		{name: "precise", textLen: 2000, params: Params{Size: 800, Overlap: 200}, wantChunks: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sb strings.Builder
			for i := 0; i < tt.textLen; i++ {
				sb.WriteByte(byte('a' + i%26))
			}
			text := sb.String()
			header := "Document: Title\n\n"

			chunks, err := Chunk(text, "Title", tt.params)
			if err != nil {
				t.Fatalf("Chunk() error = %v", err)
			}
			if len(chunks) != tt.wantChunks {
				t.Fatalf("got %d chunks, want %d", len(chunks), tt.wantChunks)
			}

			step := tt.params.Size - tt.params.Overlap
			for i, c := range chunks {
				if !strings.HasPrefix(c, header) {
					t.Fatalf("chunk %d missing header: %q", i, c)
				}
				body := strings.TrimPrefix(c, header)
				start := i * step
				end := start + tt.params.Size
				if end > len(text) {
					end = len(text)
				}
				if body != text[start:end] {
					t.Errorf("chunk %d body does not match text[%d:%d]", i, start, end)
				}
				if i > 0 {
					prev := strings.TrimPrefix(chunks[i-1], header)
					if prev[len(prev)-tt.params.Overlap:] != body[:tt.params.Overlap] {
						t.Errorf("chunks %d and %d do not overlap by %d", i-1, i, tt.params.Overlap)
					}
				}
			}

			last := strings.TrimPrefix(chunks[len(chunks)-1], header)
			if !strings.HasSuffix(text, last) {
				t.Errorf("last chunk does not reach end of text")
			}
		})
	}
}

func TestChunk_EmptyYieldsPlaceholder(t *testing.T) {
	for _, text := range []string{"", "\x00\x00"} {
		chunks, err := Chunk(text, "Notes", Params{Size: 100, Overlap: 10})
		if err != nil {
			t.Fatalf("Chunk() error = %v", err)
		}
		if len(chunks) != 1 {
			t.Fatalf("expected exactly one chunk, got %d", len(chunks))
		}
		if chunks[0] != "Document: Notes\n\n(empty document)" {
			t.Errorf("unexpected placeholder chunk %q", chunks[0])
		}
	}
}

func TestChunk_StripsNullBytes(t *testing.T) {
	chunks, _ := Chunk("ab\x00cd", "T", Params{Size: 10, Overlap: 2})
	if strings.Contains(chunks[0], "\x00") || !strings.HasSuffix(chunks[0], "abcd") {
		t.Errorf("null bytes not stripped: %q", chunks[0])
	}
}

func TestChunk_CountsRunesNotBytes(t *testing.T) {
	text := strings.Repeat("é", 15)
	chunks, err := Chunk(text, "T", Params{Size: 10, Overlap: 5})
	if err != nil {
		t.Fatalf("Chunk() error = %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if got := strings.TrimPrefix(chunks[0], "Document: T\n\n"); got != strings.Repeat("é", 10) {
		t.Errorf("first chunk split a multi-byte character: %q", got)
	}
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		params  Params
		wantErr bool
	}{
		{name: "balanced", params: Params{Size: 1600, Overlap: 400}},
		{name: "zero overlap", params: Params{Size: 10, Overlap: 0}},
		{name: "zero size", params: Params{Size: 0, Overlap: 0}, wantErr: true},
		{name: "negative overlap", params: Params{Size: 10, Overlap: -1}, wantErr: true},
		{name: "overlap equals size", params: Params{Size: 10, Overlap: 10}, wantErr: true},
		{name: "overlap exceeds size", params: Params{Size: 10, Overlap: 20}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidChunkParams) {
				t.Errorf("expected ErrInvalidChunkParams, got %v", err)
			}
		})
	}
}

func TestResolveParams(t *testing.T) {
	tests := []struct {
		name    string
		preset  string
		size    *int
		overlap *int
		want    Params
		wantErr bool
	}{
		{name: "default", want: Params{Size: 1600, Overlap: 400}},
		{name: "precise", preset: "precise", want: Params{Size: 800, Overlap: 200}},
		{name: "context-rich", preset: "context-rich", want: Params{Size: 3200, Overlap: 800}},
		{name: "custom overrides preset", preset: "precise", size: intPtr(500), overlap: intPtr(0), want: Params{Size: 500, Overlap: 0}},
		{name: "custom size keeps preset overlap", size: intPtr(1000), want: Params{Size: 1000, Overlap: 400}},
		{name: "custom size below preset overlap", size: intPtr(300), wantErr: true},
		{name: "unknown preset", preset: "huge", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveParams(tt.preset, tt.size, tt.overlap)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ResolveParams() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ResolveParams() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
