// Package memory provides a thread-safe in-memory implementation of every
// storage port, used by unit tests and local development without a
// database. It mirrors the locking and cloning discipline of the postgres
// implementation: callers always get back copies, never aliases into the
// store's internal maps.
package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/botfleet/coordinator/internal/domain"
)

// Store is an in-memory, mutex-guarded implementation of every interface in
// package storage.
type Store struct {
	mu sync.RWMutex

	nodes       map[string]domain.Node
	transitions map[string][]domain.NodeTransition

	bots     map[string]domain.BotInstance
	profiles map[string]domain.BotProfile

	recoveryEvents map[string]domain.RecoveryEvent
	recoveryItems  map[string]domain.RecoveryItem

	creditTxns     map[string]domain.CreditTransaction // by id
	creditByRef    map[string]string                   // referenceId -> txn id
	creditOrder    map[string][]string                 // tenantId -> txn ids, insertion order
	creditBalances map[string]domain.CreditBalance

	tokens map[string]domain.RegistrationToken

	tenantStatus map[string]domain.TenantStatus

	snapshots map[string]domain.Snapshot

	health map[string][]healthSample
}

type healthSample struct {
	service   string
	healthy   bool
	checkedAt time.Time
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		nodes:          make(map[string]domain.Node),
		transitions:    make(map[string][]domain.NodeTransition),
		bots:           make(map[string]domain.BotInstance),
		profiles:       make(map[string]domain.BotProfile),
		recoveryEvents: make(map[string]domain.RecoveryEvent),
		recoveryItems:  make(map[string]domain.RecoveryItem),
		creditTxns:     make(map[string]domain.CreditTransaction),
		creditByRef:    make(map[string]string),
		creditOrder:    make(map[string][]string),
		creditBalances: make(map[string]domain.CreditBalance),
		tokens:         make(map[string]domain.RegistrationToken),
		tenantStatus:   make(map[string]domain.TenantStatus),
		snapshots:      make(map[string]domain.Snapshot),
		health:         make(map[string][]healthSample),
	}
}

func newID() string {
	return uuid.NewString()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
