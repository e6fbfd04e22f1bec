package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	gateway "github.com/bodhi-run/bodhi/internal"
	"github.com/bodhi-run/bodhi/internal/hub"
)

// buildGGUF writes a minimal GGUF file with string-valued metadata to
// path, mirroring internal/gguf's own test fixture builder.
func buildGGUF(t *testing.T, path string, kv map[string]string) {
	t.Helper()
	const magic = "GGUF"
	const typeString = uint32(8)

	var buf bytes.Buffer
	buf.WriteString(magic)
	binary.Write(&buf, binary.LittleEndian, uint32(3))
	binary.Write(&buf, binary.LittleEndian, uint64(0))
	binary.Write(&buf, binary.LittleEndian, uint64(len(kv)))
	writeStr := func(s string) {
		binary.Write(&buf, binary.LittleEndian, uint64(len(s)))
		buf.WriteString(s)
	}
	for k, v := range kv {
		writeStr(k)
		binary.Write(&buf, binary.LittleEndian, typeString)
		writeStr(v)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("write gguf fixture: %v", err)
	}
}

type fakeAliases struct {
	all    []gateway.Alias
	byName map[string]gateway.Alias
}

func (f *fakeAliases) ListAliases(_ context.Context, _ string) ([]gateway.Alias, error) {
	return f.all, nil
}

func (f *fakeAliases) FindAlias(_ context.Context, name string) (gateway.Alias, error) {
	a, ok := f.byName[name]
	if !ok {
		return nil, gateway.ErrAliasNotFound
	}
	return a, nil
}

type fakeFiles struct {
	path string
}

func (f *fakeFiles) FindLocalFile(_ context.Context, repo, filename, snapshot string) (*hub.File, error) {
	return &hub.File{Repo: repo, Filename: filename, Snapshot: snapshot, Path: f.path}, nil
}

type fakeMetadataStore struct {
	existing map[string]*gateway.ModelMetadata
	upserted []*gateway.ModelMetadata
}

func key(repo, filename, snapshot string) string { return repo + "|" + filename + "|" + snapshot }

func (s *fakeMetadataStore) FindModelMetadata(_ context.Context, _ string, repo, filename, snapshot *string) (*gateway.ModelMetadata, error) {
	if m, ok := s.existing[key(*repo, *filename, *snapshot)]; ok {
		return m, nil
	}
	return nil, gateway.ErrNotFound
}

func (s *fakeMetadataStore) BatchFindModelMetadata(context.Context, [][3]string) (map[string]*gateway.ModelMetadata, error) {
	return nil, nil
}

func (s *fakeMetadataStore) UpsertModelMetadata(_ context.Context, m *gateway.ModelMetadata) error {
	s.upserted = append(s.upserted, m)
	return nil
}

func TestMetadataWorker_RefreshSingleExtractsAndStores(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.gguf")
	buildGGUF(t, path, map[string]string{
		"general.architecture":    "llama",
		"tokenizer.chat_template": "{{ x }}",
	})

	ua := &gateway.UserAlias{Alias: "my-alias", Repo: "org/repo", Filename: "model.gguf", Snapshot: "main"}
	store := &fakeMetadataStore{existing: map[string]*gateway.ModelMetadata{}}
	w := NewMetadataWorker(
		NewMetadataQueue(),
		&fakeAliases{byName: map[string]gateway.Alias{"my-alias": ua}},
		&fakeFiles{path: path},
		store,
	)

	w.process(context.Background(), gateway.RefreshSingle{AliasName: "my-alias", EnqueuedAt: time.Now()})

	if len(store.upserted) != 1 {
		t.Fatalf("upserted = %d, want 1", len(store.upserted))
	}
	got := store.upserted[0]
	if got.ChatTemplate == nil || *got.ChatTemplate != "{{ x }}" {
		t.Errorf("ChatTemplate = %v", got.ChatTemplate)
	}
	if got.Source != "model" || *got.Repo != "org/repo" {
		t.Errorf("got = %+v", got)
	}
}

func TestMetadataWorker_SkipsWhenMetadataAlreadyCached(t *testing.T) {
	ua := &gateway.ModelAlias{Alias: "cached", Repo: "org/repo", Filename: "m.gguf", Snapshot: "main"}
	store := &fakeMetadataStore{existing: map[string]*gateway.ModelMetadata{
		key("org/repo", "m.gguf", "main"): {Source: "model"},
	}}
	w := NewMetadataWorker(
		NewMetadataQueue(),
		&fakeAliases{all: []gateway.Alias{ua}},
		&fakeFiles{path: "/should/not/be/read.gguf"},
		store,
	)

	w.process(context.Background(), gateway.RefreshAll{EnqueuedAt: time.Now()})

	if len(store.upserted) != 0 {
		t.Fatalf("expected no re-extraction, got %d upserts", len(store.upserted))
	}
}

func TestMetadataWorker_SkipsApiAliases(t *testing.T) {
	api := &gateway.ApiAlias{ID: "a1", BaseURL: "https://api.example.com"}
	store := &fakeMetadataStore{existing: map[string]*gateway.ModelMetadata{}}
	w := NewMetadataWorker(
		NewMetadataQueue(),
		&fakeAliases{all: []gateway.Alias{api}},
		&fakeFiles{},
		store,
	)

	w.process(context.Background(), gateway.RefreshAll{EnqueuedAt: time.Now()})

	if len(store.upserted) != 0 {
		t.Fatalf("ApiAlias should not be extracted, got %d upserts", len(store.upserted))
	}
}

// signalingAliases calls through to fakeAliases but also pings a channel
// on every ListAliases call, letting a test observe that Run actually
// woke and drained the queue.
type signalingAliases struct {
	fakeAliases
	listed chan struct{}
}

func (s *signalingAliases) ListAliases(ctx context.Context, sortBy string) ([]gateway.Alias, error) {
	result, err := s.fakeAliases.ListAliases(ctx, sortBy)
	s.listed <- struct{}{}
	return result, err
}

func TestMetadataQueue_EnqueueWakesRun(t *testing.T) {
	q := NewMetadataQueue()
	store := &fakeMetadataStore{existing: map[string]*gateway.ModelMetadata{}}
	aliases := &signalingAliases{listed: make(chan struct{}, 1)}
	w := NewMetadataWorker(q, aliases, &fakeFiles{}, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	q.Enqueue(gateway.RefreshAll{EnqueuedAt: time.Now()})

	select {
	case <-aliases.listed:
	case <-time.After(time.Second):
		t.Fatal("Run did not wake and process the enqueued task in time")
	}

	cancel()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("Run: %v", err)
	}
}
