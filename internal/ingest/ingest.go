// Package ingest imports scraped articles into the store.
//
// Two input shapes are accepted: NDJSON (one article object per line) and
// a single JSON array of article objects. Duplicate URLs are counted and
// skipped, never treated as failures, so a scrape batch can be replayed.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/newslens/newslens/internal/store"
)

// maxLineBytes bounds a single NDJSON line; article bodies can be long.
const maxLineBytes = 4 * 1024 * 1024

// Record is the wire form of one scraped article.
type Record struct {
	SourceName  string `json:"source_name"`
	SourceLean  string `json:"source_lean"`
	Headline    string `json:"headline"`
	Body        string `json:"body"`
	URL         string `json:"url"`
	PublishedAt string `json:"published_at"` // RFC 3339, optional
}

// Report summarizes an import.
type Report struct {
	Read       int
	Inserted   int
	Duplicates int
	Invalid    int
}

// Importer writes scraped articles into a store.
type Importer struct {
	store store.Store
	log   zerolog.Logger
}

// NewImporter creates an article importer.
func NewImporter(st store.Store, log zerolog.Logger) *Importer {
	return &Importer{store: st, log: log}
}

// ImportFile imports articles from an NDJSON or JSON-array file.
// Path "-" reads stdin.
func (im *Importer) ImportFile(ctx context.Context, path string) (*Report, error) {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}
		defer f.Close()
		r = f
	}
	return im.Import(ctx, r)
}

// Import imports articles from a reader, auto-detecting the input shape.
func (im *Importer) Import(ctx context.Context, r io.Reader) (*Report, error) {
	br := bufio.NewReader(r)

	// Peek past whitespace: '[' means a JSON array, anything else NDJSON.
	head, err := peekNonSpace(br)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return &Report{}, nil
		}
		return nil, fmt.Errorf("reading input: %w", err)
	}
	if head == '[' {
		return im.importArray(ctx, br)
	}
	return im.importNDJSON(ctx, br)
}

func (im *Importer) importArray(ctx context.Context, r io.Reader) (*Report, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parsing article array: %w", err)
	}

	report := &Report{}
	for i := range records {
		im.ingestRecord(ctx, &records[i], report)
	}
	return report, nil
}

func (im *Importer) importNDJSON(ctx context.Context, r io.Reader) (*Report, error) {
	report := &Report{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)

	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			im.log.Warn().Int("line", lineNo).Err(err).Msg("skipping malformed record")
			report.Read++
			report.Invalid++
			continue
		}
		im.ingestRecord(ctx, &rec, report)
	}
	if err := sc.Err(); err != nil {
		return report, fmt.Errorf("reading input: %w", err)
	}
	return report, nil
}

func (im *Importer) ingestRecord(ctx context.Context, rec *Record, report *Report) {
	report.Read++

	article, err := rec.toArticle()
	if err != nil {
		im.log.Warn().Err(err).Str("url", rec.URL).Msg("skipping invalid record")
		report.Invalid++
		return
	}

	_, err = im.store.InsertArticle(ctx, article)
	switch {
	case err == nil:
		report.Inserted++
	case errors.Is(err, store.ErrDuplicateURL):
		report.Duplicates++
	default:
		im.log.Warn().Err(err).Str("url", article.URL).Msg("insert failed, skipping record")
		report.Invalid++
	}
}

// toArticle validates a record and converts it to a store article.
func (rec *Record) toArticle() (*store.Article, error) {
	if strings.TrimSpace(rec.URL) == "" {
		return nil, fmt.Errorf("missing url")
	}
	if strings.TrimSpace(rec.Headline) == "" {
		return nil, fmt.Errorf("missing headline")
	}
	if strings.TrimSpace(rec.SourceName) == "" {
		return nil, fmt.Errorf("missing source_name")
	}

	lean := strings.ToLower(strings.TrimSpace(rec.SourceLean))
	switch lean {
	case store.LeanLeft, store.LeanCenter, store.LeanRight, store.LeanInternational:
	case "":
		lean = store.LeanCenter
	default:
		return nil, fmt.Errorf("unknown source_lean %q", rec.SourceLean)
	}

	a := &store.Article{
		SourceName: strings.TrimSpace(rec.SourceName),
		SourceLean: lean,
		Headline:   strings.TrimSpace(rec.Headline),
		Body:       strings.TrimSpace(rec.Body),
		URL:        strings.TrimSpace(rec.URL),
	}

	if rec.PublishedAt != "" {
		t, err := time.Parse(time.RFC3339, rec.PublishedAt)
		if err != nil {
			return nil, fmt.Errorf("bad published_at %q: %w", rec.PublishedAt, err)
		}
		t = t.UTC()
		a.PublishedAt = &t
	}
	return a, nil
}

// peekNonSpace returns the first non-whitespace byte without consuming it.
func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.Peek(1)
		if err != nil {
			return 0, err
		}
		switch b[0] {
		case ' ', '\t', '\r', '\n':
			if _, err := br.ReadByte(); err != nil {
				return 0, err
			}
		default:
			return b[0], nil
		}
	}
}
