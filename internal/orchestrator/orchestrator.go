// Package orchestrator implements the two multi-step workflows that move
// workloads between nodes under coordinator control: draining a healthy
// node for decommission (§4.6) and recovering tenants off a dead one
// (§4.7). Both build on the state machine, placement engine, and command
// bus rather than duplicating any of their logic.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/botfleet/coordinator/internal/domain"
	"github.com/botfleet/coordinator/internal/storage"
)

// backupKey derives the storage key a tenant's bot is backed up under, from
// its tenant and container name (§4.7 step "compute backupKey from tenant
// container name").
func backupKey(tenant, botName string) string {
	return fmt.Sprintf("%s/%s", tenant, botName)
}

// resolveProfile returns the image/env to rehydrate a bot with: the
// tenant's own BotProfile if one is on file, else the platform default.
func resolveProfile(ctx context.Context, profiles storage.BotProfileStore, botID string) (image string, env map[string]string) {
	profile, err := profiles.GetProfile(ctx, botID)
	if err != nil || profile.Image == "" {
		return domain.DefaultImage, map[string]string{}
	}
	return profile.Image, profile.Env
}
