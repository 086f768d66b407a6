package memory

import (
	"context"
	"time"

	svcerrors "github.com/botfleet/coordinator/infrastructure/errors"
	"github.com/botfleet/coordinator/internal/domain"
	"github.com/botfleet/coordinator/internal/storage"
)

func (s *Store) GetBot(_ context.Context, botID string) (domain.BotInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bot, ok := s.bots[botID]
	if !ok {
		return domain.BotInstance{}, svcerrors.NotFound("bot", botID)
	}
	return bot, nil
}

func (s *Store) ListBots(_ context.Context, filter storage.BotFilter) ([]domain.BotInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.BotInstance, 0, len(s.bots))
	for _, id := range sortedKeys(s.bots) {
		bot := s.bots[id]
		if filter.TenantID != "" && bot.TenantID != filter.TenantID {
			continue
		}
		if filter.NodeID != "" && bot.NodeID != filter.NodeID {
			continue
		}
		if filter.BillingState != "" && bot.BillingState != filter.BillingState {
			continue
		}
		out = append(out, bot)
	}
	return out, nil
}

func (s *Store) CreateBot(_ context.Context, bot domain.BotInstance) (domain.BotInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bot.ID == "" {
		bot.ID = newID()
	}
	now := time.Now().UTC()
	bot.CreatedAt = now
	bot.UpdatedAt = now
	if bot.BillingState == "" {
		bot.BillingState = domain.BillingActive
	}
	s.bots[bot.ID] = bot
	return bot, nil
}

func (s *Store) UpdateBot(_ context.Context, bot domain.BotInstance) (domain.BotInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.bots[bot.ID]
	if !ok {
		return domain.BotInstance{}, svcerrors.NotFound("bot", bot.ID)
	}
	bot.CreatedAt = existing.CreatedAt
	bot.UpdatedAt = time.Now().UTC()
	s.bots[bot.ID] = bot
	return bot, nil
}

func (s *Store) ReassignNode(_ context.Context, botID, nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bot, ok := s.bots[botID]
	if !ok {
		return svcerrors.NotFound("bot", botID)
	}
	bot.NodeID = nodeID
	bot.UpdatedAt = time.Now().UTC()
	s.bots[botID] = bot
	return nil
}

func (s *Store) GetProfile(_ context.Context, botID string) (domain.BotProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.profiles[botID]
	if !ok {
		return domain.BotProfile{}, svcerrors.NotFound("bot_profile", botID)
	}
	return profile, nil
}

func (s *Store) PutProfile(_ context.Context, profile domain.BotProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles[profile.BotID] = profile
	return nil
}
