package alias

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	gateway "github.com/bodhi-run/bodhi/internal"
	"github.com/bodhi-run/bodhi/internal/hub"
	"github.com/bodhi-run/bodhi/internal/storage"
)

type fakeHub struct {
	aliases []*gateway.ModelAlias
}

func (f *fakeHub) ListModelAliases(context.Context) ([]*gateway.ModelAlias, error) {
	return f.aliases, nil
}

func (f *fakeHub) FindLocalFile(context.Context, string, string, string) (*hub.File, error) {
	return nil, gateway.ErrNotFound
}

type fakeStore struct {
	apiRows []*storage.ApiAliasRow
}

func (f *fakeStore) CreateApiAlias(context.Context, *storage.ApiAliasRow) error { return nil }
func (f *fakeStore) GetApiAlias(_ context.Context, id string) (*storage.ApiAliasRow, error) {
	for _, r := range f.apiRows {
		if r.Alias.ID == id {
			return r, nil
		}
	}
	return nil, gateway.ErrNotFound
}
func (f *fakeStore) ListApiAliases(context.Context) ([]*storage.ApiAliasRow, error) {
	return f.apiRows, nil
}
func (f *fakeStore) UpdateApiAlias(context.Context, *storage.ApiAliasRow) error { return nil }
func (f *fakeStore) DeleteApiAlias(context.Context, string) error              { return nil }

func (f *fakeStore) UpsertModelMetadata(context.Context, *gateway.ModelMetadata) error { return nil }
func (f *fakeStore) FindModelMetadata(context.Context, string, *string, *string, *string) (*gateway.ModelMetadata, error) {
	return nil, gateway.ErrNotFound
}
func (f *fakeStore) BatchFindModelMetadata(context.Context, [][3]string) (map[string]*gateway.ModelMetadata, error) {
	return map[string]*gateway.ModelMetadata{}, nil
}

func newTestService(t *testing.T, h *fakeHub, st *fakeStore) *Service {
	t.Helper()
	dir := t.TempDir()
	svc, err := New(dir, h, st)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc
}

func TestSaveAndFindAlias_RoundTrip(t *testing.T) {
	svc := newTestService(t, &fakeHub{}, &fakeStore{})
	ctx := context.Background()

	a := &gateway.UserAlias{Alias: "my:alias", Repo: "org/repo", Filename: "model.Q4_K_M.gguf", Snapshot: "main"}
	if err := svc.SaveAlias(ctx, a); err != nil {
		t.Fatalf("SaveAlias: %v", err)
	}

	found, err := svc.FindAlias(ctx, "my:alias")
	if err != nil {
		t.Fatalf("FindAlias: %v", err)
	}
	ua, ok := found.(*gateway.UserAlias)
	if !ok {
		t.Fatalf("found %T, want *gateway.UserAlias", found)
	}
	if ua.Repo != a.Repo || ua.Filename != a.Filename {
		t.Errorf("round-tripped alias = %+v, want %+v", ua, a)
	}
}

func TestFindAlias_NotFound(t *testing.T) {
	svc := newTestService(t, &fakeHub{}, &fakeStore{})
	_, err := svc.FindAlias(context.Background(), "nonexistent")
	if !errors.Is(err, gateway.ErrAliasNotFound) {
		t.Errorf("err = %v, want ErrAliasNotFound", err)
	}
}

func TestCopyAlias_DestinationExists(t *testing.T) {
	svc := newTestService(t, &fakeHub{}, &fakeStore{})
	ctx := context.Background()
	a := &gateway.UserAlias{Alias: "src", Repo: "org/repo", Filename: "m.gguf", Snapshot: "main"}
	if err := svc.SaveAlias(ctx, a); err != nil {
		t.Fatalf("SaveAlias: %v", err)
	}
	b := &gateway.UserAlias{Alias: "dst", Repo: "org/repo", Filename: "m.gguf", Snapshot: "main"}
	if err := svc.SaveAlias(ctx, b); err != nil {
		t.Fatalf("SaveAlias: %v", err)
	}

	if err := svc.CopyAlias(ctx, "src", "dst"); !errors.Is(err, gateway.ErrAliasExists) {
		t.Errorf("err = %v, want ErrAliasExists", err)
	}
}

func TestDeleteAlias_RejectsModelAlias(t *testing.T) {
	h := &fakeHub{aliases: []*gateway.ModelAlias{{Alias: "org/repo:Q4", Repo: "org/repo", Filename: "m-Q4.gguf", Snapshot: "abc"}}}
	svc := newTestService(t, h, &fakeStore{})
	err := svc.DeleteAlias(context.Background(), "org/repo:Q4")
	if err == nil || gateway.CodeOf(err) != "alias_error-not_deletable" {
		t.Errorf("err = %v, want alias_error-not_deletable", err)
	}
}

func TestResolveModel_ApiAliasPrefix(t *testing.T) {
	row := &storage.ApiAliasRow{Alias: gateway.ApiAlias{
		ID: "openai-1", Models: []string{"gpt-4o"}, Prefix: "openai/",
	}}
	svc := newTestService(t, &fakeHub{}, &fakeStore{apiRows: []*storage.ApiAliasRow{row}})

	res, err := svc.ResolveModel(context.Background(), "openai/gpt-4o")
	if err != nil {
		t.Fatalf("ResolveModel: %v", err)
	}
	if res.Remote == nil || res.Remote.ForwardedModel != "gpt-4o" {
		t.Errorf("resolution = %+v, want forwarded model gpt-4o", res)
	}
}

func TestResolveModel_ApiAliasPrefixNonMatch(t *testing.T) {
	row := &storage.ApiAliasRow{Alias: gateway.ApiAlias{
		ID: "openai-1", Models: []string{"gpt-4o"}, Prefix: "openai/", ForwardAllWithPrefix: true,
	}}
	svc := newTestService(t, &fakeHub{}, &fakeStore{apiRows: []*storage.ApiAliasRow{row}})

	_, err := svc.ResolveModel(context.Background(), "gpt-4o")
	if !errors.Is(err, gateway.ErrAliasNotFound) {
		t.Errorf("err = %v, want ErrAliasNotFound (unprefixed name must not match, forward_all_with_prefix notwithstanding)", err)
	}
}

func TestResolveModel_LocalUserAliasTakesPriority(t *testing.T) {
	dir := t.TempDir()
	h := &fakeHub{aliases: []*gateway.ModelAlias{{Alias: "shared", Repo: "org/repo", Filename: "m.gguf", Snapshot: "z"}}}
	svc, err := New(dir, h, &fakeStore{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ua := &gateway.UserAlias{Alias: "shared", Repo: "org/repo", Filename: "user.gguf", Snapshot: "main"}
	if err := svc.SaveAlias(context.Background(), ua); err != nil {
		t.Fatalf("SaveAlias: %v", err)
	}

	res, err := svc.ResolveModel(context.Background(), "shared")
	if err != nil {
		t.Fatalf("ResolveModel: %v", err)
	}
	if res.Local == nil || res.Local.Filename != "user.gguf" {
		t.Errorf("resolution = %+v, want user alias file user.gguf", res)
	}
}

func TestFileNameFor_ReplacesColon(t *testing.T) {
	if got := fileNameFor("a:b"); got != "a--b.yaml" {
		t.Errorf("fileNameFor(a:b) = %q, want a--b.yaml", got)
	}
}

func TestSaveAlias_CreatesDirAndFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	svc, err := New(dir, &fakeHub{}, &fakeStore{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := svc.SaveAlias(context.Background(), &gateway.UserAlias{Alias: "a", Repo: "r/m", Filename: "f.gguf"}); err != nil {
		t.Fatalf("SaveAlias: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "a.yaml")); err != nil {
		t.Errorf("expected file written: %v", err)
	}
}
