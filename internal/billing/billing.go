// Package billing implements the bot billing gate (§4.10): it observes
// credit-balance transitions into and out of zero and drives the
// suspend/reactivate/destroy lifecycle for BotInstance rows. It never talks
// to the ledger directly — callers (the daily cron, the admin surface) pass
// in the balance already read from package ledger.
package billing

import (
	"context"
	"time"

	svcerrors "github.com/botfleet/coordinator/infrastructure/errors"
	"github.com/botfleet/coordinator/internal/domain"
	"github.com/botfleet/coordinator/internal/storage"
)

// GracePeriod is how long a suspended bot survives before destroyExpiredBots
// marks it destroyed.
const GracePeriod = 30 * 24 * time.Hour

// Gate is the bot billing gate over a BotStore.
type Gate struct {
	bots storage.BotStore
}

// New creates a Gate backed by bots.
func New(bots storage.BotStore) *Gate {
	return &Gate{bots: bots}
}

// SuspendAllForTenant suspends every active bot owned by tenantID, stamping
// suspendedAt=now and destroyAfter=now+GracePeriod. Returns the suspended IDs.
func (g *Gate) SuspendAllForTenant(ctx context.Context, tenantID string) ([]string, error) {
	bots, err := g.bots.ListBots(ctx, storage.BotFilter{TenantID: tenantID, BillingState: domain.BillingActive})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	destroyAfter := now.Add(GracePeriod)
	ids := make([]string, 0, len(bots))
	for _, bot := range bots {
		bot.BillingState = domain.BillingSuspended
		bot.SuspendedAt = &now
		bot.DestroyAfter = &destroyAfter
		if _, err := g.bots.UpdateBot(ctx, bot); err != nil {
			return ids, err
		}
		ids = append(ids, bot.ID)
	}
	return ids, nil
}

// CheckReactivation flips every suspended bot for tenantID back to active
// when balance is positive, clearing suspendedAt/destroyAfter. Returns the
// reactivated IDs. Callers pass in a freshly-read balance rather than the
// gate reading the ledger itself, keeping this package free of a ledger
// dependency.
func (g *Gate) CheckReactivation(ctx context.Context, tenantID string, balanceCents int64) ([]string, error) {
	if balanceCents <= 0 {
		return nil, nil
	}

	bots, err := g.bots.ListBots(ctx, storage.BotFilter{TenantID: tenantID, BillingState: domain.BillingSuspended})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(bots))
	for _, bot := range bots {
		bot.BillingState = domain.BillingActive
		bot.SuspendedAt = nil
		bot.DestroyAfter = nil
		if _, err := g.bots.UpdateBot(ctx, bot); err != nil {
			return ids, err
		}
		ids = append(ids, bot.ID)
	}
	return ids, nil
}

// DestroyExpiredBots marks every suspended bot whose grace period has
// elapsed as destroyed. Actual container teardown is performed by a separate
// collaborator observing the returned IDs — this gate only owns billing
// state.
func (g *Gate) DestroyExpiredBots(ctx context.Context) ([]string, error) {
	bots, err := g.bots.ListBots(ctx, storage.BotFilter{BillingState: domain.BillingSuspended})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	ids := make([]string, 0)
	for _, bot := range bots {
		if bot.DestroyAfter == nil || bot.DestroyAfter.After(now) {
			continue
		}
		bot.BillingState = domain.BillingDestroyed
		if _, err := g.bots.UpdateBot(ctx, bot); err != nil {
			return ids, err
		}
		ids = append(ids, bot.ID)
	}
	return ids, nil
}

// ReactivateBot force-reactivates a single suspended bot, independent of
// balance — used by the admin surface after a manual credit grant.
func (g *Gate) ReactivateBot(ctx context.Context, botID string) (domain.BotInstance, error) {
	bot, err := g.bots.GetBot(ctx, botID)
	if err != nil {
		return domain.BotInstance{}, err
	}
	if bot.BillingState == domain.BillingDestroyed {
		return domain.BotInstance{}, svcerrors.InvalidArgument("bot_id", "bot is destroyed and cannot be reactivated")
	}
	bot.BillingState = domain.BillingActive
	bot.SuspendedAt = nil
	bot.DestroyAfter = nil
	return g.bots.UpdateBot(ctx, bot)
}

// DestroyBot force-destroys a single bot regardless of billing state —
// used by the admin surface.
func (g *Gate) DestroyBot(ctx context.Context, botID string) (domain.BotInstance, error) {
	bot, err := g.bots.GetBot(ctx, botID)
	if err != nil {
		return domain.BotInstance{}, err
	}
	bot.BillingState = domain.BillingDestroyed
	return g.bots.UpdateBot(ctx, bot)
}

// RegisterBot creates a new active bot for tenantID.
func (g *Gate) RegisterBot(ctx context.Context, tenantID, name string) (domain.BotInstance, error) {
	if tenantID == "" {
		return domain.BotInstance{}, svcerrors.InvalidArgument("tenant_id", "must not be empty")
	}
	if name == "" {
		return domain.BotInstance{}, svcerrors.InvalidArgument("name", "must not be empty")
	}
	return g.bots.CreateBot(ctx, domain.BotInstance{
		TenantID:     tenantID,
		Name:         name,
		BillingState: domain.BillingActive,
		StorageTier:  domain.StorageTierStandard,
	})
}

// GetActiveBotCount returns how many active bots tenantID currently owns.
func (g *Gate) GetActiveBotCount(ctx context.Context, tenantID string) (int, error) {
	bots, err := g.bots.ListBots(ctx, storage.BotFilter{TenantID: tenantID, BillingState: domain.BillingActive})
	if err != nil {
		return 0, err
	}
	return len(bots), nil
}

// GetStorageTier returns botID's current storage tier.
func (g *Gate) GetStorageTier(ctx context.Context, botID string) (domain.StorageTier, error) {
	bot, err := g.bots.GetBot(ctx, botID)
	if err != nil {
		return "", err
	}
	return bot.StorageTier, nil
}

// SetStorageTier updates botID's storage tier.
func (g *Gate) SetStorageTier(ctx context.Context, botID string, tier domain.StorageTier) (domain.BotInstance, error) {
	bot, err := g.bots.GetBot(ctx, botID)
	if err != nil {
		return domain.BotInstance{}, err
	}
	bot.StorageTier = tier
	return g.bots.UpdateBot(ctx, bot)
}

// TierMonthlyCostsCents is the flat per-bot monthly storage-tier surcharge
// used by the runtime cron to compute a tenant's storage bill.
var TierMonthlyCostsCents = map[domain.StorageTier]int64{
	domain.StorageTierStandard: 0,
	domain.StorageTierExtended: 500,
	domain.StorageTierArchive:  200,
}

// GetStorageTierCostsForTenant sums the monthly storage surcharge across
// every non-destroyed bot tenantID owns.
func (g *Gate) GetStorageTierCostsForTenant(ctx context.Context, tenantID string) (int64, error) {
	bots, err := g.bots.ListBots(ctx, storage.BotFilter{TenantID: tenantID})
	if err != nil {
		return 0, err
	}

	var total int64
	for _, bot := range bots {
		if bot.BillingState == domain.BillingDestroyed {
			continue
		}
		total += TierMonthlyCostsCents[bot.StorageTier]
	}
	return total, nil
}
