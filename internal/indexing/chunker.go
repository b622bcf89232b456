package indexing

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidChunkParams = errors.New("invalid chunk parameters")

const emptyDocumentPlaceholder = "(empty document)"

// Params controls the sliding window used to split documents. Sizes are in characters.
type Params struct {
	Size    int `json:"chunk_size" yaml:"chunkSize"`
	Overlap int `json:"chunk_overlap" yaml:"chunkOverlap"`
}

const DefaultPreset = "balanced"

var presets = map[string]Params{
	"precise":      {Size: 800, Overlap: 200},
	"balanced":     {Size: 1600, Overlap: 400},
	"context-rich": {Size: 3200, Overlap: 800},
}

func (p Params) Validate() error {
	if p.Size <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidChunkParams, p.Size)
	}
	if p.Overlap < 0 {
		return fmt.Errorf("%w: chunk_overlap must not be negative, got %d", ErrInvalidChunkParams, p.Overlap)
	}
	if p.Overlap >= p.Size {
		return fmt.Errorf("%w: chunk_overlap (%d) must be smaller than chunk_size (%d)", ErrInvalidChunkParams, p.Overlap, p.Size)
	}
	return nil
}

// Preset returns the named preset; an empty name selects the default.
func Preset(name string) (Params, error) {
	if name == "" {
		name = DefaultPreset
	}
	p, ok := presets[name]
	if !ok {
		return Params{}, fmt.Errorf("%w: unknown preset %q", ErrInvalidChunkParams, name)
	}
	return p, nil
}

// ResolveParams starts from the preset and applies any explicit size or overlap.
func ResolveParams(preset string, size, overlap *int) (Params, error) {
	p, err := Preset(preset)
	if err != nil {
		return Params{}, err
	}
	if size != nil {
		p.Size = *size
	}
	if overlap != nil {
		p.Overlap = *overlap
	}
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// Chunk splits text into overlapping windows, each prefixed with the document
// title. It always returns at least one chunk.
func Chunk(text, title string, p Params) ([]string, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	header := "Document: " + title + "\n\n"
	runes := []rune(strings.ReplaceAll(text, "\x00", ""))
	if len(runes) == 0 {
		return []string{header + emptyDocumentPlaceholder}, nil
	}

	step := p.Size - p.Overlap
	chunks := make([]string, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		end := start + p.Size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, header+string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks, nil
}
