// Package feed is the markdown ingestion feed (component L): an
// fsnotify-based directory watcher that chunks created/modified markdown
// files hierarchically by header and ingests each chunk through the
// remember() pipeline, skipping files whose content hash hasn't changed
// since the last ingest. It generalizes the teacher's
// internal/notify/watcher.go (fsnotify lifecycle, drain-existing-then-watch
// shape) onto markdown chunking instead of one-shot event-file consumption.
package feed

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/Signet-AI/signetai-sub002/internal/config"
	"github.com/Signet-AI/signetai-sub002/internal/ingest"
)

var dateInNamePattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})[-_]`)

// Watcher watches a directory for markdown files and ingests their
// content chunk by chunk (spec §4.L).
type Watcher struct {
	dir       string
	indexName string
	ingest    *ingest.Pipeline
	cfg       *config.Config

	watcher *fsnotify.Watcher
	done    chan struct{}

	mu         sync.Mutex
	lastHashes map[string]string
}

// New builds a Watcher over dir, excluding a file named indexName (spec
// §4.L: "excluding the index file").
func New(dir, indexName string, p *ingest.Pipeline, cfg *config.Config) *Watcher {
	return &Watcher{
		dir:        dir,
		indexName:  indexName,
		ingest:     p,
		cfg:        cfg,
		done:       make(chan struct{}),
		lastHashes: make(map[string]string),
	}
}

// Start begins watching, first ingesting every existing markdown file in
// dir, then dispatching on subsequent create/write events until Stop is
// called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}

	w.drainExisting(ctx)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.dir); err != nil {
		_ = fw.Close()
		return err
	}
	w.watcher = fw

	go w.loop(ctx)
	log.Printf("feed: watching %s for markdown changes", w.dir)
	return nil
}

// Stop shuts the watcher down, waiting for the event loop to drain.
func (w *Watcher) Stop() {
	if w.watcher != nil {
		_ = w.watcher.Close()
	}
	<-w.done
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case evt, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if evt.Op&(fsnotify.Create|fsnotify.Write) != 0 && w.isMarkdown(evt.Name) {
				w.ingestFile(ctx, evt.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("feed: watcher error: %v", err)
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) drainExisting(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(w.dir, entry.Name())
		if w.isMarkdown(path) {
			w.ingestFile(ctx, path)
		}
	}
}

func (w *Watcher) isMarkdown(path string) bool {
	if filepath.Base(path) == w.indexName {
		return false
	}
	return strings.HasSuffix(strings.ToLower(path), ".md")
}

// ingestFile reads path, skips it if its content hash matches the last
// ingest, otherwise chunks and ingests it (spec §4.L steps 1-2).
func (w *Watcher) ingestFile(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return // file removed or unreadable before we got to it
	}

	hash := contentHash(data)
	w.mu.Lock()
	unchanged := w.lastHashes[path] == hash
	w.lastHashes[path] = hash
	w.mu.Unlock()
	if unchanged {
		return
	}

	baseTags := tagsFromFilename(filepath.Base(path))
	chunks := chunkMarkdown(string(data), w.cfg.PipelineV2.Guardrails.ChunkTargetChars)

	for _, c := range chunks {
		tags := append(append([]string{}, baseTags...), c.sectionTag)
		importance := 0.55
		if c.isSectionLevel {
			importance = 0.65
		}
		imp := importance
		_, err := w.ingest.Remember(ctx, ingest.Input{
			Raw:        c.text,
			Who:        "feed",
			Project:    "",
			Importance: &imp,
			Tags:       tags,
			SourceType: "markdown_feed",
			SourceID:   path,
		})
		if err != nil {
			log.Printf("feed: ingest chunk of %s failed: %v", path, err)
		}
	}
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// tagsFromFilename derives tags from an optional leading YYYY-MM-DD date
// plus the base filename (spec §4.L: "tags derived from filename,
// including optional leading YYYY-MM-DD date").
func tagsFromFilename(name string) []string {
	name = strings.TrimSuffix(name, filepath.Ext(name))
	var tags []string
	if m := dateInNamePattern.FindStringSubmatch(name); m != nil {
		tags = append(tags, m[1])
		name = dateInNamePattern.ReplaceAllString(name, "")
	}
	name = strings.ReplaceAll(name, "_", "-")
	if name != "" {
		tags = append(tags, name)
	}
	return tags
}

type chunk struct {
	text           string
	sectionTag     string
	isSectionLevel bool
}

var headerPattern = regexp.MustCompile(`^(#{1,3})\s+(.*)$`)

// chunkMarkdown splits content hierarchically: each `#`-`###` header opens
// a chunk carrying the header line; sections longer than targetChars are
// further split into paragraph-level sub-chunks that still carry the
// header (spec §4.L; targetChars is itself a ~4-chars-per-token estimate
// of a token budget, already expressed in chars by the time it reaches
// here).
func chunkMarkdown(content string, targetChars int) []chunk {
	var chunks []chunk
	var header string
	var body strings.Builder

	flush := func() {
		text := strings.TrimSpace(body.String())
		if text == "" {
			return
		}
		sectionTag := slugify(header)
		if len(text) <= targetChars {
			chunks = append(chunks, chunk{text: text, sectionTag: sectionTag, isSectionLevel: true})
			return
		}
		for _, para := range splitParagraphs(text, targetChars) {
			withHeader := para
			if header != "" {
				withHeader = header + "\n\n" + para
			}
			chunks = append(chunks, chunk{text: withHeader, sectionTag: sectionTag, isSectionLevel: false})
		}
	}

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if m := headerPattern.FindStringSubmatch(line); m != nil {
			flush()
			header = line
			body.Reset()
			body.WriteString(line)
			body.WriteString("\n\n")
			continue
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	flush()
	return chunks
}

// splitParagraphs breaks text on blank lines into paragraph-sized pieces,
// each capped at targetChars, merging short adjacent paragraphs together.
func splitParagraphs(text string, targetChars int) []string {
	paras := strings.Split(text, "\n\n")
	var out []string
	var cur strings.Builder
	for _, p := range paras {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if cur.Len() > 0 && cur.Len()+len(p) > targetChars {
			out = append(out, strings.TrimSpace(cur.String()))
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(p)
	}
	if cur.Len() > 0 {
		out = append(out, strings.TrimSpace(cur.String()))
	}
	return out
}

func slugify(header string) string {
	header = headerPattern.ReplaceAllString(header, "$2")
	header = strings.ToLower(strings.TrimSpace(header))
	var b strings.Builder
	lastDash := false
	for _, r := range header {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteRune('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
