package pipeline

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"linkhoard/internal/config"
	"linkhoard/internal/models"
)

// BookmarkSaver persists one processed capture.
type BookmarkSaver interface {
	SaveBookmark(ctx context.Context, b models.Bookmark) (models.Bookmark, error)
}

// QAGenerator turns extracted page text into question/answer pairs.
type QAGenerator interface {
	Generate(ctx context.Context, title, text string) ([]models.QAPair, error)
}

// Embedder produces a vector for the extracted text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// ContentPipeline runs extraction, Q&A generation, embedding, and
// persistence for one job item. Generator, embedder, and thumbnailer
// are optional; an unconfigured step is skipped, not failed.
type ContentPipeline struct {
	cfg        config.Config
	httpClient *http.Client
	store      BookmarkSaver
	generator  QAGenerator
	embedder   Embedder
	thumbs     *Thumbnailer
}

func New(cfg config.Config, store BookmarkSaver, generator QAGenerator, embedder Embedder, thumbs *Thumbnailer) *ContentPipeline {
	timeout := cfg.FetchTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ContentPipeline{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		store:      store,
		generator:  generator,
		embedder:   embedder,
		thumbs:     thumbs,
	}
}

// Process fetches the item's URL and persists the resulting bookmark.
// Fetch, generation, and embedding errors propagate so the queue
// engine can apply retry bookkeeping; a thumbnail failure only costs
// the preview and is logged instead.
func (p *ContentPipeline) Process(ctx context.Context, item models.JobItem) error {
	body, err := p.download(ctx, item.TargetURL)
	if err != nil {
		return err
	}

	doc := Extract(body)

	b := models.Bookmark{
		URL:       item.TargetURL,
		Title:     doc.Title,
		Excerpt:   doc.Excerpt,
		FetchedAt: time.Now().UTC(),
	}

	if p.generator != nil && doc.Excerpt != "" {
		qa, err := p.generator.Generate(ctx, doc.Title, doc.Excerpt)
		if err != nil {
			return fmt.Errorf("generate qa: %w", err)
		}
		b.QA = qa
	}

	if p.embedder != nil && doc.Excerpt != "" {
		emb, err := p.embedder.Embed(ctx, doc.Excerpt)
		if err != nil {
			return fmt.Errorf("embed: %w", err)
		}
		b.Embedding = emb
	}

	if p.thumbs != nil && doc.ImageURL != "" {
		path, err := p.thumbs.Make(ctx, item.ID, doc.ImageURL)
		if err != nil {
			log.Printf("pipeline: thumbnail for %s: %v", item.TargetURL, err)
		} else {
			b.ThumbnailPath = path
		}
	}

	if _, err := p.store.SaveBookmark(ctx, b); err != nil {
		return fmt.Errorf("save bookmark: %w", err)
	}
	return nil
}

func (p *ContentPipeline) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("fetch page: status %d", resp.StatusCode)
	}

	limit := p.cfg.FetchMaxBytes
	if limit == 0 {
		limit = 10 * 1024 * 1024
	}
	limited := io.LimitReader(resp.Body, limit+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read page: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("page too large (>%d bytes)", limit)
	}
	return body, nil
}
