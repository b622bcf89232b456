package google

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"docbrief/internal/storage"
)

const (
	MimeTypeGoogleDoc    = "application/vnd.google-apps.document"
	MimeTypeGoogleSheet  = "application/vnd.google-apps.spreadsheet"
	MimeTypeGoogleSlides = "application/vnd.google-apps.presentation"
	MimeTypePDF          = "application/pdf"
	MimeTypeDocx         = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeTypeXlsx         = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MimeTypePptx         = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	MimeTypeText         = "text/plain"
)

const (
	ExportMimeText = "text/plain"
	ExportMimeCSV  = "text/csv"
)

// MaxExportSize caps how much of a single file is read (5MB).
const MaxExportSize = 5 * 1024 * 1024

// IndexableMimeTypes is the allow-list used when listing a user's files.
var IndexableMimeTypes = []string{
	MimeTypeGoogleDoc,
	MimeTypeGoogleSheet,
	MimeTypeGoogleSlides,
	MimeTypePDF,
	MimeTypeDocx,
	MimeTypeXlsx,
	MimeTypePptx,
	MimeTypeText,
}

type fetchMethod int

const (
	methodExport fetchMethod = iota
	methodDownload
)

type strategy struct {
	method     fetchMethod
	exportMime string
}

var strategies = map[string]strategy{
	MimeTypeGoogleDoc:    {methodExport, ExportMimeText},
	MimeTypeGoogleSlides: {methodExport, ExportMimeText},
	MimeTypeDocx:         {methodExport, ExportMimeText},
	MimeTypePptx:         {methodExport, ExportMimeText},
	MimeTypeGoogleSheet:  {methodExport, ExportMimeCSV},
	MimeTypeXlsx:         {methodExport, ExportMimeCSV},
	MimeTypePDF:          {method: methodDownload},
	MimeTypeText:         {method: methodDownload},
}

func strategyFor(mimeType string) strategy {
	if s, ok := strategies[mimeType]; ok {
		return s
	}
	return strategy{methodExport, ExportMimeText}
}

// DriveFile is the subset of Drive file metadata the indexer needs.
type DriveFile struct {
	ID           string
	Name         string
	MimeType     string
	Owner        string
	ModifiedTime string
}

// DocType maps the file's MIME type to a stored document type.
func (f DriveFile) DocType() string {
	switch f.MimeType {
	case MimeTypeGoogleDoc, MimeTypeDocx, MimeTypeText:
		return storage.DocTypeDoc
	case MimeTypeGoogleSheet, MimeTypeXlsx:
		return storage.DocTypeSheet
	case MimeTypeGoogleSlides, MimeTypePptx:
		return storage.DocTypeSlide
	case MimeTypePDF:
		return storage.DocTypePDF
	default:
		return storage.DocTypeUnknown
	}
}

// URL is the link a user follows to open the document.
func (f DriveFile) URL() string {
	switch f.MimeType {
	case MimeTypeGoogleDoc:
		return "https://docs.google.com/document/d/" + f.ID
	case MimeTypeGoogleSheet:
		return "https://docs.google.com/spreadsheets/d/" + f.ID
	case MimeTypeGoogleSlides:
		return "https://docs.google.com/presentation/d/" + f.ID
	default:
		return "https://drive.google.com/file/d/" + f.ID
	}
}

// DriveClient lists and reads a user's Drive files with a caller-supplied access token.
type DriveClient struct {
	limiter *RateLimiter
	timeout time.Duration
	opts    []option.ClientOption
}

// NewDriveClient creates a client; opts are appended to every service built
// (tests use them to point at a fake endpoint).
func NewDriveClient(timeout time.Duration, opts ...option.ClientOption) *DriveClient {
	return &DriveClient{
		limiter: NewRateLimiter(ServiceDrive),
		timeout: timeout,
		opts:    opts,
	}
}

func (c *DriveClient) service(ctx context.Context, accessToken string) (*drive.Service, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, c.opts...)
	return drive.NewService(ctx, opts...)
}

func (c *DriveClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func listQuery() string {
	clauses := make([]string, len(IndexableMimeTypes))
	for i, m := range IndexableMimeTypes {
		clauses[i] = fmt.Sprintf("mimeType='%s'", m)
	}
	return "(" + strings.Join(clauses, " or ") + ") and trashed=false"
}

// ListFiles returns up to limit indexable files, most recently modified first.
func (c *DriveClient) ListFiles(ctx context.Context, accessToken string, limit int) ([]DriveFile, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := svc.Files.List().
		Q(listQuery()).
		OrderBy("modifiedTime desc").
		PageSize(int64(limit)).
		Fields("files(id,name,mimeType,owners,modifiedTime)").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("list drive files: %w", WrapError(err))
	}

	files := make([]DriveFile, 0, len(resp.Files))
	for _, f := range resp.Files {
		df := DriveFile{ID: f.Id, Name: f.Name, MimeType: f.MimeType, ModifiedTime: f.ModifiedTime}
		if len(f.Owners) > 0 {
			df.Owner = f.Owners[0].EmailAddress
		}
		files = append(files, df)
	}
	if len(files) > limit {
		files = files[:limit]
	}
	return files, nil
}

// Extract fetches the file's text using the export or download strategy for
// its MIME type. An empty string with a nil error means the file has no content.
func (c *DriveClient) Extract(ctx context.Context, accessToken string, file DriveFile) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return "", fmt.Errorf("create drive service: %w", err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	s := strategyFor(file.MimeType)
	var data []byte
	if s.method == methodExport {
		data, err = readResponse(svc.Files.Export(file.ID, s.exportMime).Context(ctx).Download())
	} else {
		data, err = readResponse(svc.Files.Get(file.ID).Context(ctx).Download())
	}
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", file.ID, WrapError(err))
	}

	if file.MimeType == MimeTypePDF {
		return pdfText(file.ID, data), nil
	}
	return string(data), nil
}

func readResponse(resp *http.Response, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxExportSize))
	if err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}
	return data, nil
}

// pdfText extracts page text with the PDF parser and falls back to the raw
// bytes when the document cannot be parsed. A parsed PDF without any text
// (scanned pages, images) yields "".
func pdfText(fileID string, data []byte) string {
	text, err := parsePDF(data)
	if err != nil {
		slog.Debug("PDF parse failed, using raw content", "file_id", fileID, "error", err)
		return string(data)
	}
	if strings.TrimSpace(text) == "" {
		slog.Debug("PDF has no extractable text", "file_id", fileID)
		return ""
	}
	return text
}

func parsePDF(data []byte) (text string, err error) {
	// The parser panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, perr := page.GetPlainText(nil)
		if perr != nil {
			continue
		}
		sb.WriteString(pageText)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}
