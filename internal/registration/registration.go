// Package registration implements the bring-up handshake (§4.11): single-use
// operator tokens and the node-registrar upsert logic that turns a fresh or
// returning agent connection into a node in the correct state-machine state.
package registration

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	svcerrors "github.com/botfleet/coordinator/infrastructure/errors"
	"github.com/botfleet/coordinator/internal/domain"
	"github.com/botfleet/coordinator/internal/statemachine"
	"github.com/botfleet/coordinator/internal/storage"
)

// TokenTTL is how long a registration token remains consumable after
// issuance.
const TokenTTL = 15 * time.Minute

// TokenService issues and consumes single-use registration tokens.
type TokenService struct {
	tokens storage.RegistrationTokenStore
}

// NewTokenService creates a TokenService backed by tokens.
func NewTokenService(tokens storage.RegistrationTokenStore) *TokenService {
	return &TokenService{tokens: tokens}
}

// Create issues a fresh token for userID, optionally labeled.
func (s *TokenService) Create(ctx context.Context, userID, label string) (domain.RegistrationToken, error) {
	if userID == "" {
		return domain.RegistrationToken{}, svcerrors.InvalidArgument("user_id", "must not be empty")
	}
	now := time.Now().UTC()
	return s.tokens.Create(ctx, domain.RegistrationToken{
		Token:     uuid.NewString(),
		UserID:    userID,
		Label:     label,
		CreatedAt: now,
		ExpiresAt: now.Add(TokenTTL),
	})
}

// Consume atomically redeems token for nodeID. Returns ErrCodeInvalidArgument
// if the token is unknown, already used, or expired.
func (s *TokenService) Consume(ctx context.Context, token, nodeID string) (domain.RegistrationToken, error) {
	redeemed, ok, err := s.tokens.Consume(ctx, token, nodeID, time.Now().UTC())
	if err != nil {
		return domain.RegistrationToken{}, err
	}
	if !ok {
		return domain.RegistrationToken{}, svcerrors.InvalidArgument("token", "unknown, already used, or expired")
	}
	return redeemed, nil
}

// ListActive returns userID's still-consumable tokens.
func (s *TokenService) ListActive(ctx context.Context, userID string) ([]domain.RegistrationToken, error) {
	return s.tokens.ListActive(ctx, userID, time.Now().UTC())
}

// PurgeExpired removes expired token rows and reports how many were removed.
func (s *TokenService) PurgeExpired(ctx context.Context) (int, error) {
	return s.tokens.PurgeExpired(ctx, time.Now().UTC())
}

// HashSecret renders a node-agent bearer secret into the form stored on
// Node.NodeSecretHash and compared against on every wire-protocol connect.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// RegistrationInfo is the payload a node agent presents on connect.
type RegistrationInfo struct {
	NodeID       string
	Host         string
	CapacityMb   int64
	AgentVersion string
}

// OnReturningHook is invoked after a known, previously offline/recovering/
// failed node is transitioned back to returning.
type OnReturningHook func(ctx context.Context, nodeID string)

// OnRetryWaitingHook is invoked once per open recovery event that still has
// tenants waiting, after any registration. The external scheduler it's
// handed to decides whether to actually retry now — Registrar never calls
// recovery itself (open question (a)).
type OnRetryWaitingHook func(ctx context.Context, event domain.RecoveryEvent)

// Registrar implements the node bring-up upsert logic.
type Registrar struct {
	nodes          storage.NodeStore
	recovery       storage.RecoveryStore
	onReturning    OnReturningHook
	onRetryWaiting OnRetryWaitingHook
}

// New creates a Registrar. Either hook may be nil.
func New(nodes storage.NodeStore, recovery storage.RecoveryStore, onReturning OnReturningHook, onRetryWaiting OnRetryWaitingHook) *Registrar {
	return &Registrar{nodes: nodes, recovery: recovery, onReturning: onReturning, onRetryWaiting: onRetryWaiting}
}

// Register implements the upsert described in §4.11: unknown nodes are
// created in provisioning then promoted to active; known nodes recovering
// from a down state are promoted to returning and trigger onReturning;
// known healthy nodes only get their metadata refreshed.
func (r *Registrar) Register(ctx context.Context, info RegistrationInfo) (domain.Node, error) {
	existing, err := r.nodes.GetNode(ctx, info.NodeID)
	if svcerrors.Is(err, svcerrors.ErrCodeNotFound) {
		return r.registerNew(ctx, info, "", "", "")
	}
	if err != nil {
		return domain.Node{}, err
	}
	return r.registerKnown(ctx, existing, info)
}

// RegisterSelfHosted registers a brand-new node owned directly by a user
// (bypassing the token handshake) and is transitioned straight to active.
func (r *Registrar) RegisterSelfHosted(ctx context.Context, info RegistrationInfo, ownerUserID, label, nodeSecret string) (domain.Node, error) {
	return r.registerNew(ctx, info, ownerUserID, label, HashSecret(nodeSecret))
}

func (r *Registrar) registerNew(ctx context.Context, info RegistrationInfo, ownerUserID, label, secretHash string) (domain.Node, error) {
	now := time.Now().UTC()
	node, err := r.nodes.CreateNode(ctx, domain.Node{
		ID: info.NodeID, Host: info.Host, CapacityMb: info.CapacityMb,
		Status: domain.NodeProvisioning, LastHeartbeatAt: now, AgentVersion: info.AgentVersion,
		OwnerUserID: ownerUserID, Label: label, NodeSecretHash: secretHash,
	})
	if err != nil {
		return domain.Node{}, err
	}

	node, err = statemachine.Transition(ctx, r.nodes, node.ID, domain.NodeActive, "first_registration", "registrar")
	if err != nil {
		return domain.Node{}, err
	}

	r.afterRegistration(ctx)
	return node, nil
}

func (r *Registrar) registerKnown(ctx context.Context, existing domain.Node, info RegistrationInfo) (domain.Node, error) {
	existing.Host = info.Host
	existing.CapacityMb = info.CapacityMb
	existing.AgentVersion = info.AgentVersion
	updated, err := r.nodes.UpdateNodeMetadata(ctx, existing)
	if err != nil {
		return domain.Node{}, err
	}

	switch updated.Status {
	case domain.NodeOffline, domain.NodeRecovering, domain.NodeFailed:
		node, err := statemachine.Transition(ctx, r.nodes, updated.ID, domain.NodeReturning, "re_registration", "registrar")
		if err != nil {
			return domain.Node{}, err
		}
		if r.onReturning != nil {
			r.onReturning(ctx, node.ID)
		}
		r.afterRegistration(ctx)
		return node, nil
	default:
		r.afterRegistration(ctx)
		return updated, nil
	}
}

func (r *Registrar) afterRegistration(ctx context.Context) {
	if r.onRetryWaiting == nil || r.recovery == nil {
		return
	}
	events, err := r.recovery.ListOpenEventsWithWaiting(ctx)
	if err != nil {
		return
	}
	for _, evt := range events {
		r.onRetryWaiting(ctx, evt)
	}
}
