// Package ingestion turns source documents into embedded chunks in the
// semantic index.
package ingestion

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/billing-agent/backend/internal/llm"
	"github.com/billing-agent/backend/internal/metrics"
	"github.com/billing-agent/backend/internal/vector"
	"github.com/billing-agent/backend/pkg/logger"
)

var (
	spaceRun      = regexp.MustCompile(`[ \t]+`)
	blankLineRun  = regexp.MustCompile(`\n{3,}`)
	supportedExts = map[string]bool{".txt": true, ".md": true, ".html": true, ".htm": true}
)

type Document struct {
	DocID   string `json:"doc_id"`
	Content string `json:"content"`
	Source  string `json:"source,omitempty"`
	HTML    bool   `json:"html,omitempty"`
}

type Report struct {
	Namespace string         `json:"namespace"`
	Documents int            `json:"documents"`
	Chunks    int            `json:"chunks"`
	PerDoc    map[string]int `json:"per_doc"`
}

type Processor struct {
	embedder llm.Embedder
	index    vector.Index
	chunker  *Chunker
}

func NewProcessor(embedder llm.Embedder, index vector.Index, chunker *Chunker) *Processor {
	if chunker == nil {
		chunker = NewChunker(DefaultChunkSize, DefaultChunkOverlap)
	}
	return &Processor{embedder: embedder, index: index, chunker: chunker}
}

// Ingest chunks, embeds and upserts docs into namespace. With reset the
// namespace is emptied first. Chunk ids are "<doc_id>_chunk_<n>", so
// re-ingesting a document overwrites its earlier chunks.
func (p *Processor) Ingest(ctx context.Context, namespace string, docs []Document, reset bool) (*Report, error) {
	if reset {
		if err := p.index.DeleteAll(ctx, namespace); err != nil {
			return nil, fmt.Errorf("failed to reset namespace %s: %w", namespace, err)
		}
		logger.Info("Namespace cleared", zap.String("namespace", namespace))
	}

	report := &Report{Namespace: namespace, PerDoc: make(map[string]int, len(docs))}
	for _, doc := range docs {
		n, err := p.ingestOne(ctx, namespace, doc)
		if err != nil {
			return report, err
		}
		report.Documents++
		report.Chunks += n
		report.PerDoc[doc.DocID] = n
	}

	logger.Info("Ingestion complete",
		zap.String("namespace", namespace),
		zap.Int("documents", report.Documents),
		zap.Int("chunks", report.Chunks),
	)
	return report, nil
}

func (p *Processor) ingestOne(ctx context.Context, namespace string, doc Document) (int, error) {
	if doc.DocID == "" {
		return 0, fmt.Errorf("document id is required")
	}

	text := doc.Content
	if doc.HTML {
		text = CleanHTML(text)
	}
	chunks := p.chunker.Split(doc.DocID, text)
	if len(chunks) == 0 {
		logger.Warn("Document produced no chunks", zap.String("doc_id", doc.DocID))
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	embeddings, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("failed to embed %s: %w", doc.DocID, err)
	}
	if len(embeddings) != len(chunks) {
		return 0, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(embeddings), len(chunks))
	}

	records := make([]vector.Record, len(chunks))
	for i, c := range chunks {
		records[i] = vector.Record{
			ID:     fmt.Sprintf("%s_chunk_%d", c.DocID, c.ChunkID),
			Vector: embeddings[i],
			Metadata: vector.Metadata{
				DocID:   c.DocID,
				ChunkID: c.ChunkID,
				Text:    c.Text,
				Source:  doc.Source,
			},
		}
	}
	if err := p.index.Upsert(ctx, namespace, records); err != nil {
		return 0, fmt.Errorf("failed to upsert %s: %w", doc.DocID, err)
	}

	metrics.DocumentsIngested.WithLabelValues(namespace).Add(float64(len(records)))
	logger.Info("Document ingested",
		zap.String("doc_id", doc.DocID),
		zap.Int("chunks", len(records)),
	)
	return len(records), nil
}

// CleanHTML extracts readable body text, keeping paragraph breaks so the
// chunker can split on them.
func CleanHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	doc.Find("script, style, nav, footer, header, aside").Remove()
	doc.Find("p, div, li, tr, h1, h2, h3, h4, h5, h6, br").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n\n")
	})

	text := doc.Find("body").Text()
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(spaceRun.ReplaceAllString(l, " "))
	}
	text = strings.Join(lines, "\n")
	return strings.TrimSpace(blankLineRun.ReplaceAllString(text, "\n\n"))
}

// LoadDirectory reads the text, markdown and HTML files in dir. The doc id is
// the file name without its extension.
func LoadDirectory(dir string) ([]Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var docs []Document
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || !supportedExts[ext] {
			continue
		}
		path := filepath.Join(dir, e.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		docs = append(docs, Document{
			DocID:   strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())),
			Content: string(raw),
			Source:  e.Name(),
			HTML:    ext == ".html" || ext == ".htm",
		})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].DocID < docs[j].DocID })
	return docs, nil
}
