package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	gateway "github.com/bodhi-run/bodhi/internal"
	"github.com/bodhi-run/bodhi/internal/gguf"
	"github.com/bodhi-run/bodhi/internal/hub"
	"github.com/bodhi-run/bodhi/internal/storage"
)

// AliasLister is the subset of alias.Service the metadata worker needs:
// enumerate every catalogued alias for a RefreshAll, or resolve one by
// name for a RefreshSingle.
type AliasLister interface {
	ListAliases(ctx context.Context, sortBy string) ([]gateway.Alias, error)
	FindAlias(ctx context.Context, name string) (gateway.Alias, error)
}

// LocalFileFinder resolves a local alias's (repo, filename, snapshot) to
// the GGUF file backing it. hub.Service satisfies this directly.
type LocalFileFinder interface {
	FindLocalFile(ctx context.Context, repo, filename, snapshot string) (*hub.File, error)
}

// MetadataQueue is the in-memory FIFO of refresh tasks the MetadataWorker
// drains. It is not persisted -- a restart simply loses queued
// RefreshAll/RefreshSingle tasks; the process enqueues one RefreshAll at
// startup.
type MetadataQueue struct {
	mu         sync.Mutex
	tasks      []gateway.RefreshTask
	processing bool
	notify     chan struct{}
}

// NewMetadataQueue builds an empty queue.
func NewMetadataQueue() *MetadataQueue {
	return &MetadataQueue{notify: make(chan struct{}, 1)}
}

// Enqueue appends a task and wakes the worker if it's idle. Never blocks.
func (q *MetadataQueue) Enqueue(task gateway.RefreshTask) {
	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// IsProcessing reports whether the worker is mid-extraction, for the
// admin UI's model list to show a "refreshing" indicator.
func (q *MetadataQueue) IsProcessing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processing
}

func (q *MetadataQueue) pop() (gateway.RefreshTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil, false
	}
	task := q.tasks[0]
	q.tasks = q.tasks[1:]
	return task, true
}

func (q *MetadataQueue) setProcessing(v bool) {
	q.mu.Lock()
	q.processing = v
	q.mu.Unlock()
}

// MetadataWorker is the background extractor: it drains a
// MetadataQueue and parses GGUF headers for any local alias that has no
// cached ModelMetadata yet, storing the result for the alias catalogue
// to serve without re-parsing on every list.
type MetadataWorker struct {
	queue   *MetadataQueue
	aliases AliasLister
	files   LocalFileFinder
	store   storage.ModelMetadataStore
}

// NewMetadataWorker builds a MetadataWorker bound to queue.
func NewMetadataWorker(queue *MetadataQueue, aliases AliasLister, files LocalFileFinder, store storage.ModelMetadataStore) *MetadataWorker {
	return &MetadataWorker{queue: queue, aliases: aliases, files: files, store: store}
}

// Name satisfies Worker.
func (w *MetadataWorker) Name() string { return "metadata" }

// Run satisfies Worker. It blocks on the queue's notify channel and
// drains every pending task each time it wakes, so a burst of enqueues
// collapses into a single wake rather than one per task.
func (w *MetadataWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.queue.notify:
		}

		for {
			task, ok := w.queue.pop()
			if !ok {
				break
			}
			w.queue.setProcessing(true)
			w.process(ctx, task)
			w.queue.setProcessing(false)
		}
	}
}

func (w *MetadataWorker) process(ctx context.Context, task gateway.RefreshTask) {
	switch t := task.(type) {
	case gateway.RefreshAll:
		aliases, err := w.aliases.ListAliases(ctx, "name")
		if err != nil {
			slog.Error("metadata: list aliases", "error", err)
			return
		}
		for _, a := range aliases {
			if ctx.Err() != nil {
				return
			}
			w.extractOne(ctx, a)
		}
	case gateway.RefreshSingle:
		a, err := w.aliases.FindAlias(ctx, t.AliasName)
		if err != nil {
			slog.Warn("metadata: find alias", "alias", t.AliasName, "error", err)
			return
		}
		w.extractOne(ctx, a)
	}
}

// extractOne parses and stores GGUF metadata for a single local alias.
// ApiAlias entries carry no on-disk weights and are skipped; no metadata
// is extracted or stored for them.
func (w *MetadataWorker) extractOne(ctx context.Context, a gateway.Alias) {
	var repo, filename, snapshot string
	switch v := a.(type) {
	case *gateway.UserAlias:
		repo, filename, snapshot = v.Repo, v.Filename, v.Snapshot
	case *gateway.ModelAlias:
		repo, filename, snapshot = v.Repo, v.Filename, v.Snapshot
	default:
		return
	}

	if _, err := w.store.FindModelMetadata(ctx, "model", &repo, &filename, &snapshot); err == nil {
		return
	} else if !errors.Is(err, gateway.ErrNotFound) {
		slog.Error("metadata: lookup existing", "repo", repo, "filename", filename, "error", err)
		return
	}

	file, err := w.files.FindLocalFile(ctx, repo, filename, snapshot)
	if err != nil {
		slog.Warn("metadata: local file not found", "repo", repo, "filename", filename, "error", err)
		return
	}

	header, err := gguf.Parse(file.Path)
	if err != nil {
		slog.Warn("metadata: parse gguf", "path", file.Path, "error", err)
		return
	}

	now := time.Now()
	meta := &gateway.ModelMetadata{
		Source:      "model",
		Repo:        &repo,
		Filename:    &filename,
		Snapshot:    &snapshot,
		ExtractedAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
		Capabilities: gateway.Capabilities{
			Vision: header.HasVisionTower(),
		},
	}
	if n, ok := header.ContextLength(); ok {
		meta.Context.MaxInputTokens = &n
	}
	if tpl, ok := header.ChatTemplate(); ok {
		meta.ChatTemplate = &tpl
	}
	if raw, err := json.Marshal(struct {
		Architecture string         `json:"architecture"`
		Values       map[string]any `json:"values"`
	}{header.Architecture, header.Values}); err == nil {
		meta.ArchitectureJSON = raw
	}

	if err := w.store.UpsertModelMetadata(ctx, meta); err != nil {
		slog.Error("metadata: upsert", "repo", repo, "filename", filename, "error", err)
	}
}
