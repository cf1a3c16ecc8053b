package feed

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Signet-AI/signetai-sub002/internal/config"
	"github.com/Signet-AI/signetai-sub002/internal/ingest"
	"github.com/Signet-AI/signetai-sub002/internal/store/sqlite"
)

func TestTagsFromFilenameExtractsLeadingDate(t *testing.T) {
	assert.Equal(t, []string{"2026-01-15", "launch-notes"}, tagsFromFilename("2026-01-15-launch_notes.md"))
	assert.Equal(t, []string{"2026-01-15", "launch-notes"}, tagsFromFilename("2026-01-15_launch_notes.md"))
}

func TestTagsFromFilenameWithoutDate(t *testing.T) {
	assert.Equal(t, []string{"runbook"}, tagsFromFilename("runbook.md"))
}

func TestSlugifyNormalizesHeaderText(t *testing.T) {
	assert.Equal(t, "deploy-process", slugify("## Deploy Process!!"))
	assert.Equal(t, "q-a", slugify("# Q & A"))
}

func TestChunkMarkdownSplitsByHeader(t *testing.T) {
	md := "# Title\n\nintro text\n\n## Section One\n\nfirst section body\n\n## Section Two\n\nsecond section body\n"
	chunks := chunkMarkdown(md, 1000)

	require.Len(t, chunks, 3)
	assert.Equal(t, "title", chunks[0].sectionTag)
	assert.Equal(t, "section-one", chunks[1].sectionTag)
	assert.Contains(t, chunks[1].text, "first section body")
	assert.Equal(t, "section-two", chunks[2].sectionTag)
}

func TestChunkMarkdownSplitsLongSectionsIntoParagraphs(t *testing.T) {
	long := ""
	for i := 0; i < 20; i++ {
		long += "paragraph text that repeats to exceed the budget.\n\n"
	}
	md := "# Big\n\n" + long
	chunks := chunkMarkdown(md, 100)

	assert.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.False(t, c.isSectionLevel)
	}
}

func TestChunkMarkdownNoHeaderStillProducesOneChunk(t *testing.T) {
	chunks := chunkMarkdown("just a plain note with no headers\n", 1000)
	require.Len(t, chunks, 1)
	assert.Equal(t, "", chunks[0].sectionTag)
}

func TestStartIngestsExistingMarkdownAndSkipsIndexFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "MEMORY.md"), []byte("# index\n\nshould not be ingested"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("# Notes\n\nwe should rotate keys weekly"), 0o644))

	db, err := sqlite.Init(filepath.Join(t.TempDir(), "memories.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := config.Defaults()
	p := ingest.New(db, nil, cfg)
	w := New(dir, "MEMORY.md", p, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	// drainExisting runs synchronously inside Start, so the memory from
	// notes.md should already be queryable, and MEMORY.md must be absent.
	var total int
	require.NoError(t, db.WithReadDb(ctx, func(ctx context.Context, sqlDB *sql.DB) error {
		memories, n, err := sqlite.ListMemories(ctx, sqlDB, 10, 0)
		total = n
		for _, m := range memories {
			assert.NotContains(t, m.Content, "should not be ingested")
		}
		return err
	}))
	assert.Equal(t, 1, total)
}

func TestIngestFileSkipsUnchangedContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(path, []byte("# Notes\n\nsame content"), 0o644))

	db, err := sqlite.Init(filepath.Join(t.TempDir(), "memories.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := config.Defaults()
	p := ingest.New(db, nil, cfg)
	w := New(dir, "MEMORY.md", p, cfg)

	ctx := context.Background()
	w.ingestFile(ctx, path)
	firstHash := w.lastHashes[path]
	w.ingestFile(ctx, path) // unchanged content must be a no-op
	assert.Equal(t, firstHash, w.lastHashes[path])
}

func TestWatcherStartCreatesDirIfMissing(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "memory")

	db, err := sqlite.Init(filepath.Join(t.TempDir(), "memories.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := config.Defaults()
	p := ingest.New(db, nil, cfg)
	w := New(dir, "MEMORY.md", p, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))

	_, err = os.Stat(dir)
	assert.NoError(t, err)

	cancel()
	w.Stop()
	time.Sleep(10 * time.Millisecond)
}
