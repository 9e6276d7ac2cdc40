// Package policy provides cached read-through access to tenant SLA and
// billing configuration plus the embedded reason-code catalog.
package policy

import (
	_ "embed"
	"fmt"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/octup/sentinel/internal/domain"
)

//go:embed catalog.yaml
var catalogYAML []byte

type catalogDoc struct {
	Reasons    []domain.ReasonMeta `yaml:"reasons"`
	DefaultSLA domain.SLAPolicy    `yaml:"default_sla"`
}

var (
	catalogOnce sync.Once
	catalog     catalogDoc
	catalogErr  error
)

func loadCatalog() (catalogDoc, error) {
	catalogOnce.Do(func() {
		catalogErr = yaml.Unmarshal(catalogYAML, &catalog)
	})
	return catalog, catalogErr
}

type cachedTenant struct {
	tenant   domain.Tenant
	cachedAt time.Time
}

// Store caches tenant policy reads for a short TTL; state is process-local
// and invalidated on operator request.
type Store struct {
	tenants domain.TenantRepository
	ttl     time.Duration

	mu    sync.RWMutex
	cache map[string]cachedTenant

	reasons    map[domain.ReasonCode]domain.ReasonMeta
	defaultSLA domain.SLAPolicy
}

// NewStore builds the policy store; the embedded catalog must parse.
func NewStore(tenants domain.TenantRepository, ttl time.Duration) (*Store, error) {
	doc, err := loadCatalog()
	if err != nil {
		return nil, fmt.Errorf("op=policy.new: catalog: %w", err)
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	reasons := make(map[domain.ReasonCode]domain.ReasonMeta, len(doc.Reasons))
	for _, m := range doc.Reasons {
		reasons[m.Code] = m
	}
	return &Store{
		tenants:    tenants,
		ttl:        ttl,
		cache:      make(map[string]cachedTenant),
		reasons:    reasons,
		defaultSLA: doc.DefaultSLA,
	}, nil
}

func (s *Store) tenant(ctx domain.Context, id string) (domain.Tenant, error) {
	s.mu.RLock()
	if c, ok := s.cache[id]; ok && time.Since(c.cachedAt) < s.ttl {
		s.mu.RUnlock()
		return c.tenant, nil
	}
	s.mu.RUnlock()

	t, err := s.tenants.Get(ctx, id)
	if err != nil {
		return domain.Tenant{}, err
	}
	s.mu.Lock()
	s.cache[id] = cachedTenant{tenant: t, cachedAt: time.Now()}
	s.mu.Unlock()
	return t, nil
}

// SLAPolicy returns the tenant's SLA configuration, falling back to the
// catalog defaults (including multipliers) for anything left unset.
func (s *Store) SLAPolicy(ctx domain.Context, tenant string) (domain.SLAPolicy, error) {
	t, err := s.tenant(ctx, tenant)
	if err != nil {
		return domain.SLAPolicy{}, err
	}
	p := t.SLA
	if len(p.Rules) == 0 {
		p.Rules = s.defaultSLA.Rules
	}
	if p.WeekendMultiplier == 0 {
		p.WeekendMultiplier = s.defaultSLA.WeekendMultiplier
	}
	if p.HolidayMultiplier == 0 {
		p.HolidayMultiplier = s.defaultSLA.HolidayMultiplier
	}
	if p.HighVolumeMultiplier == 0 {
		p.HighVolumeMultiplier = s.defaultSLA.HighVolumeMultiplier
	}
	if p.HighVolumeThreshold == 0 {
		p.HighVolumeThreshold = s.defaultSLA.HighVolumeThreshold
	}
	return p, nil
}

// Billing returns the tenant's billing configuration.
func (s *Store) Billing(ctx domain.Context, tenant string) (domain.BillingConfig, error) {
	t, err := s.tenant(ctx, tenant)
	if err != nil {
		return domain.BillingConfig{}, err
	}
	return t.Billing, nil
}

// ReasonMeta returns catalog defaults for the code; unknown codes get the
// OTHER entry.
func (s *Store) ReasonMeta(rc domain.ReasonCode) domain.ReasonMeta {
	if m, ok := s.reasons[rc]; ok {
		return m
	}
	return s.reasons[domain.ReasonOther]
}

// Invalidate drops the cached entry for one tenant, or all when empty.
func (s *Store) Invalidate(tenant string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tenant == "" {
		s.cache = make(map[string]cachedTenant)
		return
	}
	delete(s.cache, tenant)
}
