// Package store implements the Persistent State Store: a fixed set of
// namespaced keys, each holding a versioned JSON blob, backed by the
// Message Bus Adapter's durable key/value side-channel (§4.2).
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/just-ship-it/slingshot-trade-orchestrator/internal/bus"
	"github.com/just-ship-it/slingshot-trade-orchestrator/pkg/domain"
)

const (
	keySignalContext    = "signal:context"
	keySignalMappings   = "signal:mappings"
	keySignalLifecycles = "signal:lifecycles"
	keyOrderStrategy    = "orders:strategy-mapping"
	keyMultiStrategy    = "multi-strategy:state"
	keyContractMappings = "contracts:mappings"

	lifecycleTTL = 7 * 24 * time.Hour

	// multiStrategyStateVersion is the current blob version. A blob
	// persisted under an older version (specifically version 1, the
	// single global position/source shape) is discarded on load rather
	// than migrated — see the Open Question decision recorded in
	// DESIGN.md: reconciliation is relied upon to rebuild state instead.
	multiStrategyStateVersion = 2
)

// Store wraps a Bus's KV side-channel with the orchestrator's fixed,
// namespaced key set and whole-key JSON replace semantics.
type Store struct {
	bus       bus.Bus
	namespace string
	logger    *zap.Logger
}

// New creates a Store over the given bus and namespace.
func New(logger *zap.Logger, b bus.Bus, namespace string) *Store {
	return &Store{bus: b, namespace: namespace, logger: logger.Named("store")}
}

func (s *Store) key(name string) string {
	return s.namespace + ":" + name
}

// SignalMappings is the three-map structure persisted under "signal:mappings".
type SignalMappings struct {
	SignalToOrders   map[string][]string `json:"signalToOrders"`
	OrderToSignal    map[string]string   `json:"orderToSignal"`
	SignalToPosition map[string]string   `json:"signalToPosition"`
}

// MultiStrategyState is the structure persisted under "multi-strategy:state".
type MultiStrategyState struct {
	Version       int                                     `json:"version"`
	Positions     map[string]domain.StrategyStateEntry    `json:"positions"`
	PendingOrders map[string]domain.PendingOrderRef        `json:"pendingOrders"`
}

// ContractMappings is the structure persisted under "contracts:mappings".
type ContractMappings struct {
	FrontMonth map[string]string  `json:"frontMonth"`
	PointValue map[string]float64 `json:"pointValue"`
	TickSize   map[string]float64 `json:"tickSize"`
}

func (s *Store) writeJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", key, err)
	}
	if err := s.bus.Set(ctx, s.key(key), payload, ttl); err != nil {
		s.logger.Warn("persistent write failed, will retry on next write",
			zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

// readJSON unmarshals key into v. A missing key leaves v unmodified and
// returns found=false; readers must tolerate this at first boot.
func (s *Store) readJSON(ctx context.Context, key string, v any) (found bool, err error) {
	raw, ok, err := s.bus.Get(ctx, s.key(key))
	if err != nil {
		return false, fmt.Errorf("store: get %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("store: unmarshal %s: %w", key, err)
	}
	return true, nil
}

// SaveSignalContexts replaces the signal:context blob wholesale.
func (s *Store) SaveSignalContexts(ctx context.Context, contexts map[string]domain.SignalContext) error {
	return s.writeJSON(ctx, keySignalContext, contexts, 0)
}

// LoadSignalContexts returns the persisted signal contexts, or an empty map
// if none have been persisted yet.
func (s *Store) LoadSignalContexts(ctx context.Context) (map[string]domain.SignalContext, error) {
	out := make(map[string]domain.SignalContext)
	if _, err := s.readJSON(ctx, keySignalContext, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveSignalMappings replaces the signal:mappings blob wholesale.
func (s *Store) SaveSignalMappings(ctx context.Context, m SignalMappings) error {
	return s.writeJSON(ctx, keySignalMappings, m, 0)
}

// LoadSignalMappings returns the persisted mapping triple, defaulted to empty maps.
func (s *Store) LoadSignalMappings(ctx context.Context) (SignalMappings, error) {
	m := SignalMappings{
		SignalToOrders:   make(map[string][]string),
		OrderToSignal:    make(map[string]string),
		SignalToPosition: make(map[string]string),
	}
	if _, err := s.readJSON(ctx, keySignalMappings, &m); err != nil {
		return m, err
	}
	if m.SignalToOrders == nil {
		m.SignalToOrders = make(map[string][]string)
	}
	if m.OrderToSignal == nil {
		m.OrderToSignal = make(map[string]string)
	}
	if m.SignalToPosition == nil {
		m.SignalToPosition = make(map[string]string)
	}
	return m, nil
}

// SaveSignalLifecycles replaces the signal:lifecycles blob wholesale, with
// the fixed 7-day TTL from §3.
func (s *Store) SaveSignalLifecycles(ctx context.Context, lifecycles map[string][]domain.SignalLifecycleEntry) error {
	return s.writeJSON(ctx, keySignalLifecycles, lifecycles, lifecycleTTL)
}

// LoadSignalLifecycles returns the persisted lifecycle log, or empty if the
// key is missing or has expired.
func (s *Store) LoadSignalLifecycles(ctx context.Context) (map[string][]domain.SignalLifecycleEntry, error) {
	out := make(map[string][]domain.SignalLifecycleEntry)
	if _, err := s.readJSON(ctx, keySignalLifecycles, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveOrderStrategyMapping replaces the orders:strategy-mapping blob wholesale.
func (s *Store) SaveOrderStrategyMapping(ctx context.Context, m map[string]string) error {
	return s.writeJSON(ctx, keyOrderStrategy, m, 0)
}

// LoadOrderStrategyMapping returns the persisted orderId -> strategyGroupId map.
func (s *Store) LoadOrderStrategyMapping(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string)
	if _, err := s.readJSON(ctx, keyOrderStrategy, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveMultiStrategyState replaces the multi-strategy:state blob wholesale,
// stamping the current version.
func (s *Store) SaveMultiStrategyState(ctx context.Context, positions map[string]domain.StrategyStateEntry, pending map[string]domain.PendingOrderRef) error {
	blob := MultiStrategyState{
		Version:       multiStrategyStateVersion,
		Positions:     positions,
		PendingOrders: pending,
	}
	return s.writeJSON(ctx, keyMultiStrategy, blob, 0)
}

// LoadMultiStrategyState returns the persisted strategy-state maps. A blob
// from an older version is discarded (returned as empty) rather than
// migrated, per the Open Question decision in DESIGN.md.
func (s *Store) LoadMultiStrategyState(ctx context.Context) (map[string]domain.StrategyStateEntry, map[string]domain.PendingOrderRef, error) {
	var blob MultiStrategyState
	found, err := s.readJSON(ctx, keyMultiStrategy, &blob)
	if err != nil {
		return nil, nil, err
	}
	if !found || blob.Version < multiStrategyStateVersion {
		if found {
			s.logger.Info("discarding stale multi-strategy:state blob, relying on reconciliation",
				zap.Int("blobVersion", blob.Version), zap.Int("currentVersion", multiStrategyStateVersion))
		}
		return make(map[string]domain.StrategyStateEntry), make(map[string]domain.PendingOrderRef), nil
	}
	if blob.Positions == nil {
		blob.Positions = make(map[string]domain.StrategyStateEntry)
	}
	if blob.PendingOrders == nil {
		blob.PendingOrders = make(map[string]domain.PendingOrderRef)
	}
	return blob.Positions, blob.PendingOrders, nil
}

// SaveContractMappings replaces the contracts:mappings blob wholesale.
func (s *Store) SaveContractMappings(ctx context.Context, m ContractMappings) error {
	return s.writeJSON(ctx, keyContractMappings, m, 0)
}

// LoadContractMappings returns the persisted contract mapping table.
func (s *Store) LoadContractMappings(ctx context.Context) (ContractMappings, error) {
	m := ContractMappings{
		FrontMonth: make(map[string]string),
		PointValue: make(map[string]float64),
		TickSize:   make(map[string]float64),
	}
	if _, err := s.readJSON(ctx, keyContractMappings, &m); err != nil {
		return m, err
	}
	return m, nil
}
