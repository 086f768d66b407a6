package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	svcerrors "github.com/botfleet/coordinator/infrastructure/errors"
	"github.com/botfleet/coordinator/internal/domain"
	"github.com/botfleet/coordinator/internal/storage"
	"github.com/google/uuid"
)

func (s *Store) GetBot(ctx context.Context, botID string) (domain.BotInstance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, node_id, billing_state, suspended_at, destroy_after, storage_tier, estimated_mb, created_at, updated_at
		FROM bot_instances WHERE id = $1
	`, botID)

	bot, err := scanBot(row)
	if err == sql.ErrNoRows {
		return domain.BotInstance{}, svcerrors.NotFound("bot", botID)
	}
	if err != nil {
		return domain.BotInstance{}, err
	}
	return bot, nil
}

func (s *Store) ListBots(ctx context.Context, filter storage.BotFilter) ([]domain.BotInstance, error) {
	query := `
		SELECT id, tenant_id, name, node_id, billing_state, suspended_at, destroy_after, storage_tier, estimated_mb, created_at, updated_at
		FROM bot_instances WHERE 1=1
	`
	var args []any
	if filter.TenantID != "" {
		args = append(args, filter.TenantID)
		query += fmt.Sprintf(" AND tenant_id = $%d", len(args))
	}
	if filter.NodeID != "" {
		args = append(args, filter.NodeID)
		query += fmt.Sprintf(" AND node_id = $%d", len(args))
	}
	if filter.BillingState != "" {
		args = append(args, string(filter.BillingState))
		query += fmt.Sprintf(" AND billing_state = $%d", len(args))
	}
	query += " ORDER BY created_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.BotInstance
	for rows.Next() {
		bot, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, bot)
	}
	return result, rows.Err()
}

func (s *Store) CreateBot(ctx context.Context, bot domain.BotInstance) (domain.BotInstance, error) {
	if bot.ID == "" {
		bot.ID = uuid.NewString()
	}
	if bot.BillingState == "" {
		bot.BillingState = domain.BillingActive
	}
	if bot.StorageTier == "" {
		bot.StorageTier = domain.StorageTierStandard
	}
	now := time.Now().UTC()
	bot.CreatedAt = now
	bot.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bot_instances (id, tenant_id, name, node_id, billing_state, suspended_at, destroy_after, storage_tier, estimated_mb, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, bot.ID, bot.TenantID, bot.Name, toNullString(bot.NodeID), string(bot.BillingState), toNullTime(bot.SuspendedAt), toNullTime(bot.DestroyAfter), string(bot.StorageTier), bot.EstimatedMb, bot.CreatedAt, bot.UpdatedAt)
	if err != nil {
		return domain.BotInstance{}, err
	}
	return bot, nil
}

func (s *Store) UpdateBot(ctx context.Context, bot domain.BotInstance) (domain.BotInstance, error) {
	existing, err := s.GetBot(ctx, bot.ID)
	if err != nil {
		return domain.BotInstance{}, err
	}
	bot.TenantID = existing.TenantID
	bot.CreatedAt = existing.CreatedAt
	bot.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE bot_instances
		SET name = $2, node_id = $3, billing_state = $4, suspended_at = $5, destroy_after = $6, storage_tier = $7, estimated_mb = $8, updated_at = $9
		WHERE id = $1
	`, bot.ID, bot.Name, toNullString(bot.NodeID), string(bot.BillingState), toNullTime(bot.SuspendedAt), toNullTime(bot.DestroyAfter), string(bot.StorageTier), bot.EstimatedMb, bot.UpdatedAt)
	if err != nil {
		return domain.BotInstance{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.BotInstance{}, svcerrors.NotFound("bot", bot.ID)
	}
	return bot, nil
}

func (s *Store) ReassignNode(ctx context.Context, botID, nodeID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE bot_instances SET node_id = $2, updated_at = $3 WHERE id = $1
	`, botID, toNullString(nodeID), time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return svcerrors.NotFound("bot", botID)
	}
	return nil
}

func (s *Store) GetProfile(ctx context.Context, botID string) (domain.BotProfile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT bot_id, image, env, release_channel, update_policy, discovery
		FROM bot_profiles WHERE bot_id = $1
	`, botID)

	var (
		profile     domain.BotProfile
		envRaw      []byte
		discoverRaw []byte
	)
	if err := row.Scan(&profile.BotID, &profile.Image, &envRaw, &profile.ReleaseChannel, &profile.UpdatePolicy, &discoverRaw); err != nil {
		if err == sql.ErrNoRows {
			return domain.BotProfile{}, svcerrors.NotFound("bot_profile", botID)
		}
		return domain.BotProfile{}, err
	}
	if len(envRaw) > 0 {
		_ = json.Unmarshal(envRaw, &profile.Env)
	}
	if len(discoverRaw) > 0 {
		_ = json.Unmarshal(discoverRaw, &profile.Discovery)
	}
	return profile, nil
}

func (s *Store) PutProfile(ctx context.Context, profile domain.BotProfile) error {
	envJSON, err := json.Marshal(profile.Env)
	if err != nil {
		return err
	}
	discoverJSON, err := json.Marshal(profile.Discovery)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bot_profiles (bot_id, image, env, release_channel, update_policy, discovery)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (bot_id) DO UPDATE
		SET image = $2, env = $3, release_channel = $4, update_policy = $5, discovery = $6
	`, profile.BotID, profile.Image, envJSON, profile.ReleaseChannel, profile.UpdatePolicy, discoverJSON)
	return err
}

func scanBot(scanner rowScanner) (domain.BotInstance, error) {
	var (
		bot          domain.BotInstance
		nodeID       sql.NullString
		billingState string
		suspendedAt  sql.NullTime
		destroyAfter sql.NullTime
		storageTier  string
	)
	if err := scanner.Scan(&bot.ID, &bot.TenantID, &bot.Name, &nodeID, &billingState, &suspendedAt, &destroyAfter, &storageTier, &bot.EstimatedMb, &bot.CreatedAt, &bot.UpdatedAt); err != nil {
		return domain.BotInstance{}, err
	}
	if nodeID.Valid {
		bot.NodeID = strings.TrimSpace(nodeID.String)
	}
	bot.BillingState = domain.BillingState(billingState)
	bot.StorageTier = domain.StorageTier(storageTier)
	bot.SuspendedAt = fromNullTime(suspendedAt)
	bot.DestroyAfter = fromNullTime(destroyAfter)
	bot.CreatedAt = bot.CreatedAt.UTC()
	bot.UpdatedAt = bot.UpdatedAt.UTC()
	return bot, nil
}
