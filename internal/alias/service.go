// Package alias implements the DataService (unified alias catalogue)
// and AliasResolver (request model name -> backend), adapting a
// router service's cache-then-resolve shape to a three-tier sum-type
// lookup.
package alias

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/maypok86/otter/v2"
	"go.yaml.in/yaml/v3"

	gateway "github.com/bodhi-run/bodhi/internal"
	"github.com/bodhi-run/bodhi/internal/hub"
	"github.com/bodhi-run/bodhi/internal/storage"
)

// listCacheTTL mirrors a router service's route cache: short
// enough that a saved/deleted alias is visible within seconds, long
// enough to avoid re-walking the YAML directory and HF cache on every
// /v1/models request.
const listCacheTTL = 10 * time.Second

// HubLister is the subset of hub.Service the alias catalogue depends on.
type HubLister interface {
	ListModelAliases(ctx context.Context) ([]*gateway.ModelAlias, error)
	FindLocalFile(ctx context.Context, repo, filename, snapshot string) (*hub.File, error)
}

// Service is the DataService and AliasResolver, holding no
// mutable state of its own beyond the short-TTL list cache: aliases
// are the source of truth (YAML files, the HF cache, and the DB).
type Service struct {
	dir   string
	hub   HubLister
	store interface {
		storage.ApiAliasStore
		storage.ModelMetadataStore
	}
	cache *otter.Cache[string, []gateway.Alias]
}

// New builds a Service rooted at dir, the directory holding one YAML
// file per UserAlias.
func New(dir string, hubSvc HubLister, store interface {
	storage.ApiAliasStore
	storage.ModelMetadataStore
}) (*Service, error) {
	cache, err := otter.New(&otter.Options[string, []gateway.Alias]{
		MaximumSize:      16,
		ExpiryCalculator: otter.ExpiryWriting[string, []gateway.Alias](listCacheTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("alias: create list cache: %w", err)
	}
	return &Service{dir: dir, hub: hubSvc, store: store, cache: cache}, nil
}

// userAliasFile is the on-disk YAML shape of a UserAlias.
type userAliasFile struct {
	Alias         string         `yaml:"alias"`
	Repo          string         `yaml:"repo"`
	Filename      string         `yaml:"filename"`
	Snapshot      string         `yaml:"snapshot"`
	RequestParams map[string]any `yaml:"request_params,omitempty"`
	ContextParams map[string]any `yaml:"context_params,omitempty"`
}

func fileNameFor(aliasName string) string {
	return strings.ReplaceAll(aliasName, ":", "--") + ".yaml"
}

func (s *Service) loadUserAliases() ([]*gateway.UserAlias, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("alias: read dir %s: %w", s.dir, err)
	}

	var out []*gateway.UserAlias
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("alias: read %s: %w", e.Name(), err)
		}
		var f userAliasFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("alias: parse %s: %w", e.Name(), err)
		}
		a, err := fromFile(&f)
		if err != nil {
			return nil, fmt.Errorf("alias: %s: %w", e.Name(), err)
		}
		out = append(out, a)
	}
	return out, nil
}

func fromFile(f *userAliasFile) (*gateway.UserAlias, error) {
	reqParams, err := marshalRaw(f.RequestParams)
	if err != nil {
		return nil, err
	}
	ctxParams, err := marshalRaw(f.ContextParams)
	if err != nil {
		return nil, err
	}
	return &gateway.UserAlias{
		Alias:         f.Alias,
		Repo:          f.Repo,
		Filename:      f.Filename,
		Snapshot:      f.Snapshot,
		RequestParams: reqParams,
		ContextParams: ctxParams,
	}, nil
}

// ListAliases returns User ∪ Model ∪ Api as a single ordered slice,
// sorted by the requested key: "name", "repo", "filename", or "source".
// Results are cached for listCacheTTL.
func (s *Service) ListAliases(ctx context.Context, sortBy string) ([]gateway.Alias, error) {
	if cached, ok := s.cache.GetIfPresent(sortBy); ok {
		return cached, nil
	}

	userAliases, err := s.loadUserAliases()
	if err != nil {
		return nil, err
	}
	modelAliases, err := s.hub.ListModelAliases(ctx)
	if err != nil {
		return nil, fmt.Errorf("alias: list model aliases: %w", err)
	}
	apiRows, err := s.store.ListApiAliases(ctx)
	if err != nil {
		return nil, fmt.Errorf("alias: list api aliases: %w", err)
	}

	out := make([]gateway.Alias, 0, len(userAliases)+len(modelAliases)+len(apiRows))
	for _, a := range userAliases {
		out = append(out, a)
	}
	for _, a := range modelAliases {
		out = append(out, a)
	}
	for _, row := range apiRows {
		a := row.Alias
		out = append(out, &a)
	}

	sortAliases(out, sortBy)
	s.cache.Set(sortBy, out)
	return out, nil
}

// Entry pairs one Alias with its attached ModelMetadata, when any is on
// record. Api aliases never carry metadata here -- their cached model
// list on the row is used as-is.
type Entry struct {
	Alias    gateway.Alias
	Metadata *gateway.ModelMetadata
}

// ListAliasesWithMetadata is ListAliases plus a single batch lookup of
// ModelMetadata keyed by (repo, filename, snapshot) for every User and
// Model entry, never one query per alias.
func (s *Service) ListAliasesWithMetadata(ctx context.Context, sortBy string) ([]Entry, error) {
	aliases, err := s.ListAliases(ctx, sortBy)
	if err != nil {
		return nil, err
	}

	var keys [][3]string
	for _, a := range aliases {
		switch v := a.(type) {
		case *gateway.UserAlias:
			keys = append(keys, [3]string{v.Repo, v.Filename, v.Snapshot})
		case *gateway.ModelAlias:
			keys = append(keys, [3]string{v.Repo, v.Filename, v.Snapshot})
		}
	}
	metaByKey, err := s.store.BatchFindModelMetadata(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("alias: batch find metadata: %w", err)
	}

	out := make([]Entry, len(aliases))
	for i, a := range aliases {
		entry := Entry{Alias: a}
		var key string
		switch v := a.(type) {
		case *gateway.UserAlias:
			key = v.Repo + "|" + v.Filename + "|" + v.Snapshot
		case *gateway.ModelAlias:
			key = v.Repo + "|" + v.Filename + "|" + v.Snapshot
		}
		if key != "" {
			entry.Metadata = metaByKey[key]
		}
		out[i] = entry
	}
	return out, nil
}

func sortAliases(aliases []gateway.Alias, sortBy string) {
	key := func(a gateway.Alias) string {
		switch v := a.(type) {
		case *gateway.UserAlias:
			switch sortBy {
			case "repo":
				return v.Repo
			case "filename":
				return v.Filename
			case "source":
				return "user"
			default:
				return v.Alias
			}
		case *gateway.ModelAlias:
			switch sortBy {
			case "repo":
				return v.Repo
			case "filename":
				return v.Filename
			case "source":
				return "model"
			default:
				return v.Alias
			}
		case *gateway.ApiAlias:
			switch sortBy {
			case "repo", "filename":
				return ""
			case "source":
				return "api"
			default:
				return v.ID
			}
		default:
			return ""
		}
	}
	sort.SliceStable(aliases, func(i, j int) bool {
		return key(aliases[i]) < key(aliases[j])
	})
}

// FindAlias searches User, then Model, then Api aliases for name,
// in that priority order. An Api alias matches by its ID or by any of
// its exposed model identifiers.
func (s *Service) FindAlias(ctx context.Context, name string) (gateway.Alias, error) {
	aliases, err := s.ListAliases(ctx, "name")
	if err != nil {
		return nil, err
	}
	for _, a := range aliases {
		if ua, ok := a.(*gateway.UserAlias); ok && ua.Alias == name {
			return ua, nil
		}
	}
	for _, a := range aliases {
		if ma, ok := a.(*gateway.ModelAlias); ok && ma.Alias == name {
			return ma, nil
		}
	}
	for _, a := range aliases {
		api, ok := a.(*gateway.ApiAlias)
		if !ok {
			continue
		}
		if api.ID == name {
			return api, nil
		}
		if _, matched := matchApiAlias(api, name); matched {
			return api, nil
		}
	}
	return nil, gateway.ErrAliasNotFound
}

// SaveAlias writes a as "<alias-with-`:`-replaced-by-`--`>.yaml" under
// the aliases directory and invalidates the list cache.
func (s *Service) SaveAlias(_ context.Context, a *gateway.UserAlias) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("alias: create dir: %w", err)
	}
	f := userAliasFile{
		Alias:    a.Alias,
		Repo:     a.Repo,
		Filename: a.Filename,
		Snapshot: a.Snapshot,
	}
	var err error
	if f.RequestParams, err = unmarshalRaw(a.RequestParams); err != nil {
		return err
	}
	if f.ContextParams, err = unmarshalRaw(a.ContextParams); err != nil {
		return err
	}
	data, err := yaml.Marshal(&f)
	if err != nil {
		return fmt.Errorf("alias: marshal %s: %w", a.Alias, err)
	}
	path := filepath.Join(s.dir, fileNameFor(a.Alias))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("alias: write %s: %w", path, err)
	}
	s.cache.InvalidateAll()
	return nil
}

// CopyAlias duplicates the UserAlias at src under a new name dst,
// failing with ErrAliasExists if dst already resolves to anything.
func (s *Service) CopyAlias(ctx context.Context, src, dst string) error {
	if _, err := s.FindAlias(ctx, dst); err == nil {
		return gateway.ErrAliasExists
	}
	found, err := s.FindAlias(ctx, src)
	if err != nil {
		return err
	}
	ua, ok := found.(*gateway.UserAlias)
	if !ok {
		return gateway.NewValidation("alias_error-not_user_alias", "only user aliases can be copied")
	}
	copied := *ua
	copied.Alias = dst
	return s.SaveAlias(ctx, &copied)
}

// DeleteAlias removes the YAML file backing a UserAlias. Model aliases
// are read-only cache views and Api aliases are removed through the
// dedicated API-model endpoint; deleting either here is a validation
// error.
func (s *Service) DeleteAlias(ctx context.Context, name string) error {
	found, err := s.FindAlias(ctx, name)
	if err != nil {
		return err
	}
	if _, ok := found.(*gateway.UserAlias); !ok {
		return gateway.NewValidation("alias_error-not_deletable",
			fmt.Sprintf("alias %q is not a user alias and cannot be deleted here", name))
	}
	path := filepath.Join(s.dir, fileNameFor(name))
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("alias: delete %s: %w", path, err)
	}
	s.cache.InvalidateAll()
	return nil
}

// matchApiAlias applies the alias prefix rule: with a non-empty Prefix,
// an incoming name matches iff it begins with that prefix, and the
// forwarded name is the suffix (default) or the name unchanged when
// ForwardAllWithPrefix is set. With no Prefix, the incoming name must
// exactly match one of the alias's configured Models.
func matchApiAlias(a *gateway.ApiAlias, name string) (forwarded string, ok bool) {
	if a.Prefix != "" {
		if !strings.HasPrefix(name, a.Prefix) {
			return "", false
		}
		if a.ForwardAllWithPrefix {
			return name, true
		}
		return strings.TrimPrefix(name, a.Prefix), true
	}
	for _, m := range a.Models {
		if m == name {
			return name, true
		}
	}
	return "", false
}

func marshalRaw(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("alias: marshal params: %w", err)
	}
	return b, nil
}

func unmarshalRaw(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("alias: unmarshal params: %w", err)
	}
	return m, nil
}
