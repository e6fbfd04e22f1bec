package alias

import (
	"context"

	gateway "github.com/bodhi-run/bodhi/internal"
)

// Resolution is the outcome of resolving a request's model field to a
// backend. Exactly one of Local/Remote is populated.
type Resolution struct {
	// Local is set when the request resolves to a GGUF file served by
	// the local llama-server subprocess.
	Local *LocalTarget
	// Remote is set when the request resolves to a remote ApiAlias.
	Remote *RemoteTarget
}

// LocalTarget names the physical GGUF file ForwardProxy must route to.
type LocalTarget struct {
	Repo     string
	Filename string
	Snapshot string
}

// RemoteTarget carries the chosen ApiAlias and the model name that must
// be substituted into the forwarded request body.
type RemoteTarget struct {
	Alias          *gateway.ApiAlias
	ForwardedModel string
}

// ResolveModel implements the AliasResolver: the request's
// model field is matched against, in order, User aliases, Model
// aliases, then every Api alias's expanded model list.
func (s *Service) ResolveModel(ctx context.Context, model string) (*Resolution, error) {
	if model == "" {
		return nil, gateway.NewValidation("request_error-invalid_model", "model must be a non-empty string")
	}

	aliases, err := s.ListAliases(ctx, "name")
	if err != nil {
		return nil, err
	}

	for _, a := range aliases {
		if ua, ok := a.(*gateway.UserAlias); ok && ua.Alias == model {
			return &Resolution{Local: &LocalTarget{Repo: ua.Repo, Filename: ua.Filename, Snapshot: ua.Snapshot}}, nil
		}
	}
	for _, a := range aliases {
		if ma, ok := a.(*gateway.ModelAlias); ok && ma.Alias == model {
			return &Resolution{Local: &LocalTarget{Repo: ma.Repo, Filename: ma.Filename, Snapshot: ma.Snapshot}}, nil
		}
	}
	for _, a := range aliases {
		api, ok := a.(*gateway.ApiAlias)
		if !ok {
			continue
		}
		if forwarded, matched := matchApiAlias(api, model); matched {
			return &Resolution{Remote: &RemoteTarget{Alias: api, ForwardedModel: forwarded}}, nil
		}
	}
	return nil, gateway.ErrAliasNotFound
}
