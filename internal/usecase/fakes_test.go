package usecase_test

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/octup/sentinel/internal/domain"
)

// In-memory fakes for the repository and client ports. They implement just
// enough semantics for the services under test: tenant scoping, the
// one-open-exception upsert rule and duplicate suppression.

type fakeExceptionRepo struct {
	mu   sync.Mutex
	seq  int
	rows map[string]domain.Exception

	updateErr error
}

func newFakeExceptionRepo() *fakeExceptionRepo {
	return &fakeExceptionRepo{rows: make(map[string]domain.Exception)}
}

func (r *fakeExceptionRepo) UpsertOpen(_ domain.Context, ex domain.Exception) (domain.Exception, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.Tenant == ex.Tenant && row.OrderID == ex.OrderID &&
			row.ReasonCode == ex.ReasonCode && row.Status == domain.StatusOpen {
			for k, v := range ex.ContextData {
				if row.ContextData == nil {
					row.ContextData = make(map[string]any)
				}
				row.ContextData[k] = v
			}
			row.UpdatedAt = time.Now().UTC()
			r.rows[row.ID] = row
			return row, false, nil
		}
	}
	r.seq++
	ex.ID = fmt.Sprintf("ex-%d", r.seq)
	ex.CreatedAt = time.Now().UTC()
	ex.UpdatedAt = ex.CreatedAt
	r.rows[ex.ID] = ex
	return ex, true, nil
}

func (r *fakeExceptionRepo) Get(_ domain.Context, tenant, id string) (domain.Exception, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok || row.Tenant != tenant {
		return domain.Exception{}, fmt.Errorf("op=fake.get: %w", domain.ErrNotFound)
	}
	return row, nil
}

func (r *fakeExceptionRepo) List(_ domain.Context, tenant string, f domain.ExceptionFilter) ([]domain.Exception, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Exception
	for _, row := range r.rows {
		if row.Tenant != tenant {
			continue
		}
		if f.Status != "" && row.Status != f.Status {
			continue
		}
		if f.ReasonCode != "" && row.ReasonCode != f.ReasonCode {
			continue
		}
		if f.Severity != "" && row.Severity != f.Severity {
			continue
		}
		if f.OrderID != "" && row.OrderID != f.OrderID {
			continue
		}
		out = append(out, row)
	}
	return out, len(out), nil
}

func (r *fakeExceptionRepo) Update(_ domain.Context, ex domain.Exception) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	if _, ok := r.rows[ex.ID]; !ok {
		return fmt.Errorf("op=fake.update: %w", domain.ErrNotFound)
	}
	r.rows[ex.ID] = ex
	return nil
}

func (r *fakeExceptionRepo) Stats(_ domain.Context, tenant string) (domain.ExceptionStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := domain.ExceptionStats{
		ByStatus:   make(map[string]int),
		BySeverity: make(map[string]int),
		ByReason:   make(map[string]int),
	}
	for _, row := range r.rows {
		if row.Tenant != tenant {
			continue
		}
		st.Total++
		st.ByStatus[string(row.Status)]++
		st.BySeverity[string(row.Severity)]++
		st.ByReason[string(row.ReasonCode)]++
	}
	return st, nil
}

func (r *fakeExceptionRepo) get(id string) domain.Exception {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[id]
}

type fakeEventRepo struct {
	mu     sync.Mutex
	seq    int
	events []domain.OrderEvent

	recentCount int
	insertErr   error
}

func (r *fakeEventRepo) key(ev domain.OrderEvent) string {
	return ev.Tenant + "|" + string(ev.Source) + "|" + ev.EventID
}

func (r *fakeEventRepo) Insert(_ domain.Context, ev domain.OrderEvent) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return "", r.insertErr
	}
	for _, e := range r.events {
		if r.key(e) == r.key(ev) {
			return "", fmt.Errorf("op=fake.insert: %w", domain.ErrDuplicate)
		}
	}
	r.seq++
	if ev.ID == "" {
		ev.ID = fmt.Sprintf("evt-%d", r.seq)
	}
	ev.CreatedAt = time.Now().UTC()
	r.events = append(r.events, ev)
	return ev.ID, nil
}

func (r *fakeEventRepo) InsertBatch(_ domain.Context, evs []domain.OrderEvent) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return nil, r.insertErr
	}
	var written []string
	for _, ev := range evs {
		dup := false
		for _, e := range r.events {
			if r.key(e) == r.key(ev) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		r.events = append(r.events, ev)
		written = append(written, ev.ID)
	}
	return written, nil
}

func (r *fakeEventRepo) ListByOrder(_ domain.Context, tenant, orderID string) ([]domain.OrderEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.OrderEvent
	for _, e := range r.events {
		if e.Tenant == tenant && e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeEventRepo) CountRecent(_ domain.Context, _ string, _ time.Duration) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recentCount, nil
}

type fakeDLQRepo struct {
	mu    sync.Mutex
	items []domain.DLQItem

	processed []string
	failed    []string
}

func (r *fakeDLQRepo) Enqueue(_ domain.Context, item domain.DLQItem) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if item.Status == "" {
		item.Status = domain.DLQPending
	}
	r.items = append(r.items, item)
	return item.ID, nil
}

func (r *fakeDLQRepo) FetchDue(_ domain.Context, tenant string, limit int) ([]domain.DLQItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.DLQItem
	for _, it := range r.items {
		if it.Status != domain.DLQPending {
			continue
		}
		if tenant != "" && it.Tenant != tenant {
			continue
		}
		out = append(out, it)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *fakeDLQRepo) MarkProcessed(_ domain.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed = append(r.processed, id)
	for i := range r.items {
		if r.items[i].ID == id {
			r.items[i].Status = domain.DLQProcessed
		}
	}
	return nil
}

func (r *fakeDLQRepo) MarkFailedAttempt(_ domain.Context, id string, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, id)
	for i := range r.items {
		if r.items[i].ID == id {
			r.items[i].Attempts++
			if r.items[i].Attempts >= r.items[i].MaxAttempts {
				r.items[i].Status = domain.DLQFailed
			}
		}
	}
	return nil
}

func (r *fakeDLQRepo) Stats(_ domain.Context, tenant string) (domain.DLQStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var st domain.DLQStats
	for _, it := range r.items {
		if tenant != "" && it.Tenant != tenant {
			continue
		}
		switch it.Status {
		case domain.DLQPending:
			st.Pending++
		case domain.DLQProcessed:
			st.Processed++
		case domain.DLQFailed:
			st.Failed++
		}
	}
	return st, nil
}

func (r *fakeDLQRepo) Cleanup(_ domain.Context, _ time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kept []domain.DLQItem
	var removed int64
	for _, it := range r.items {
		if it.Status == domain.DLQPending {
			kept = append(kept, it)
			continue
		}
		removed++
	}
	r.items = kept
	return removed, nil
}

func (r *fakeDLQRepo) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

type fakeIdemStore struct {
	mu        sync.Mutex
	processed map[string]bool
	locks     map[string]bool

	lockDenied bool
	checkErr   error
}

func newFakeIdemStore() *fakeIdemStore {
	return &fakeIdemStore{processed: make(map[string]bool), locks: make(map[string]bool)}
}

func idemKey(tenant string, source domain.EventSource, eventID string) string {
	return strings.Join([]string{tenant, string(source), eventID}, "|")
}

func (s *fakeIdemStore) AcquireLock(_ domain.Context, tenant string, source domain.EventSource, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lockDenied {
		return false, nil
	}
	k := idemKey(tenant, source, eventID)
	if s.locks[k] {
		return false, nil
	}
	s.locks[k] = true
	return true, nil
}

func (s *fakeIdemStore) ReleaseLock(_ domain.Context, tenant string, source domain.EventSource, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, idemKey(tenant, source, eventID))
	return nil
}

func (s *fakeIdemStore) IsProcessed(_ domain.Context, tenant string, source domain.EventSource, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checkErr != nil {
		return false, s.checkErr
	}
	return s.processed[idemKey(tenant, source, eventID)], nil
}

func (s *fakeIdemStore) MarkProcessed(_ domain.Context, tenant string, source domain.EventSource, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[idemKey(tenant, source, eventID)] = true
	return nil
}

type fakePolicyStore struct {
	sla    domain.SLAPolicy
	slaErr error
}

func (p *fakePolicyStore) SLAPolicy(domain.Context, string) (domain.SLAPolicy, error) {
	return p.sla, p.slaErr
}

func (p *fakePolicyStore) Billing(domain.Context, string) (domain.BillingConfig, error) {
	return domain.BillingConfig{}, nil
}

func (p *fakePolicyStore) ReasonMeta(rc domain.ReasonCode) domain.ReasonMeta {
	meta := domain.ReasonMeta{Code: rc, DefaultSeverity: domain.SeverityMedium}
	switch rc {
	case domain.ReasonSystemError:
		meta.DefaultSeverity = domain.SeverityCritical
		meta.AutoResolveEligible = true
	case domain.ReasonPaymentFailed, domain.ReasonAddressInvalid, domain.ReasonInventoryShortage:
		meta.DefaultSeverity = domain.SeverityHigh
		meta.AutoResolveEligible = true
	case domain.ReasonPickDelay, domain.ReasonPackDelay:
		meta.DefaultSeverity = domain.SeverityMedium
	case domain.ReasonOther, domain.ReasonCustomerUnavailable:
		meta.DefaultSeverity = domain.SeverityLow
	}
	return meta
}

func (p *fakePolicyStore) Invalidate(string) {}

type fakeAIClient struct {
	classifyFn func(domain.Exception) (domain.Classification, error)
	analyzeFn  func(map[string]any) (domain.ProblemReport, error)
	resolveFn  func(map[string]any, domain.ReasonCode) (domain.ResolutionAnalysis, error)
	lintFn     func(string, string) (domain.LintReport, error)
}

func (c *fakeAIClient) ClassifyException(_ domain.Context, ex domain.Exception) (domain.Classification, error) {
	if c.classifyFn == nil {
		return domain.Classification{}, fmt.Errorf("op=fake.classify: %w", domain.ErrUpstreamTimeout)
	}
	return c.classifyFn(ex)
}

func (c *fakeAIClient) AnalyzeOrderProblems(_ domain.Context, rawOrder map[string]any) (domain.ProblemReport, error) {
	if c.analyzeFn == nil {
		return domain.ProblemReport{}, fmt.Errorf("op=fake.analyze: %w", domain.ErrUpstreamTimeout)
	}
	return c.analyzeFn(rawOrder)
}

func (c *fakeAIClient) AnalyzeAutomatedResolution(_ domain.Context, rawOrder map[string]any, rc domain.ReasonCode) (domain.ResolutionAnalysis, error) {
	if c.resolveFn == nil {
		return domain.ResolutionAnalysis{}, fmt.Errorf("op=fake.resolve: %w", domain.ErrUpstreamTimeout)
	}
	return c.resolveFn(rawOrder, rc)
}

func (c *fakeAIClient) LintPolicy(_ domain.Context, policyText, policyType string) (domain.LintReport, error) {
	if c.lintFn == nil {
		return domain.LintReport{OK: true}, nil
	}
	return c.lintFn(policyText, policyType)
}

type executedAction struct {
	Action domain.AutomatedAction
	ExID   string
}

type fakeExecutor struct {
	mu       sync.Mutex
	executed []executedAction
	fn       func(domain.AutomatedAction) (bool, error)
}

func (e *fakeExecutor) Execute(_ domain.Context, action domain.AutomatedAction, ex domain.Exception) (bool, error) {
	e.mu.Lock()
	e.executed = append(e.executed, executedAction{Action: action, ExID: ex.ID})
	e.mu.Unlock()
	if e.fn == nil {
		return true, nil
	}
	return e.fn(action)
}
