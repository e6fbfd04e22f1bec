package config

import (
	"context"
	"fmt"
	"log/slog"

	gateway "github.com/bodhi-run/bodhi/internal"
	"github.com/bodhi-run/bodhi/internal/secret"
	"github.com/bodhi-run/bodhi/internal/storage"
)

// LoadMasterKey returns the process-wide AEAD master key: the value of
// BODHI_MASTER_KEY if set, otherwise the key persisted in the app_state
// row, generating and storing one on first run.
func LoadMasterKey(ctx context.Context, store storage.AppStateStore, envKey []byte) ([]byte, error) {
	if len(envKey) > 0 {
		return envKey, nil
	}
	return store.GetOrCreateMasterKey(ctx, secret.GenerateMasterKey)
}

// Bootstrap performs the lifecycle half of the one-shot POST
// /bodhi/v1/setup operation: it requires AppStatus=Setup and advances it
// to ResourceAdmin. The OAuth client registration itself is the
// caller's job (AuthService.RegisterClient), performed before this is
// called so a failed registration never advances the app past Setup.
func Bootstrap(ctx context.Context, store storage.AppStateStore) error {
	status, err := store.GetAppStatus(ctx)
	if err != nil {
		return fmt.Errorf("read app status: %w", err)
	}
	if status != gateway.AppStatusSetup {
		return gateway.ErrAlreadySetup
	}

	if err := store.SetAppStatus(ctx, gateway.AppStatusResourceAdmin); err != nil {
		return fmt.Errorf("advance app status: %w", err)
	}
	slog.Info("bootstrap complete", "status", gateway.AppStatusResourceAdmin)
	return nil
}
