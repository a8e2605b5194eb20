// Package memory provides an in-process core.Store used by tests and local
// development. Transactions run one at a time against a copy of the state
// that is published only when the transaction succeeds.
package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"factory-procurement/internal/core"
)

type seqKey struct {
	factoryID int
	year      int
}

type state struct {
	factories map[int]core.Factory
	users     map[int]core.User
	vendors   map[int]core.Vendor
	materials map[int]core.Material
	requests  map[int]*core.ProcurementRequest
	returns   map[int]core.ReturnRequest
	sequences map[seqKey]int
	history   []core.HistoryRecord
	lastID    int
}

func newState() *state {
	return &state{
		factories: map[int]core.Factory{},
		users:     map[int]core.User{},
		vendors:   map[int]core.Vendor{},
		materials: map[int]core.Material{},
		requests:  map[int]*core.ProcurementRequest{},
		returns:   map[int]core.ReturnRequest{},
		sequences: map[seqKey]int{},
	}
}

func (s *state) clone() *state {
	out := &state{
		factories: make(map[int]core.Factory, len(s.factories)),
		users:     make(map[int]core.User, len(s.users)),
		vendors:   make(map[int]core.Vendor, len(s.vendors)),
		materials: make(map[int]core.Material, len(s.materials)),
		requests:  make(map[int]*core.ProcurementRequest, len(s.requests)),
		returns:   make(map[int]core.ReturnRequest, len(s.returns)),
		sequences: make(map[seqKey]int, len(s.sequences)),
		history:   slices.Clone(s.history),
		lastID:    s.lastID,
	}
	for id, f := range s.factories {
		out.factories[id] = f
	}
	for id, u := range s.users {
		u.FactoryIDs = slices.Clone(u.FactoryIDs)
		out.users[id] = u
	}
	for id, v := range s.vendors {
		out.vendors[id] = v
	}
	for id, m := range s.materials {
		out.materials[id] = m
	}
	for id, r := range s.requests {
		out.requests[id] = core.CloneRequest(r)
	}
	for id, rr := range s.returns {
		out.returns[id] = rr
	}
	for k, v := range s.sequences {
		out.sequences[k] = v
	}
	return out
}

func (s *state) nextID() int {
	s.lastID++
	return s.lastID
}

// Store is a core.Store held entirely in memory.
type Store struct {
	mu         sync.Mutex
	st         *state
	historyErr error
}

// New returns an empty store.
func New() *Store {
	return &Store{st: newState()}
}

// Verify interface compliance
var _ core.Store = (*Store)(nil)

// InTx runs fn against a private copy of the state and publishes it when fn
// succeeds. Transactions are fully serialized, so LockRequest needs no extra
// bookkeeping.
func (s *Store) InTx(ctx context.Context, fn func(tx core.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{st: s.st.clone(), historyErr: s.historyErr}
	if err := fn(t); err != nil {
		return err
	}
	s.st = t.st
	return nil
}

// FailHistory makes every subsequent EmitHistoryRecord return err. Pass nil to
// restore normal behaviour.
func (s *Store) FailHistory(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.historyErr = err
}

// History returns the committed history records.
func (s *Store) History() []core.HistoryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.st.history)
}

type tx struct {
	st         *state
	historyErr error
}

var _ core.Tx = (*tx)(nil)

func (t *tx) GetFactory(_ context.Context, id int) (*core.Factory, error) {
	f, ok := t.st.factories[id]
	if !ok {
		return nil, core.NotFoundError("factory", id)
	}
	return &f, nil
}

func (t *tx) ListFactories(_ context.Context, ids []int) ([]core.Factory, error) {
	out := []core.Factory{}
	for id, f := range t.st.factories {
		if ids == nil || slices.Contains(ids, id) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (t *tx) InsertFactory(_ context.Context, f *core.Factory) error {
	for _, existing := range t.st.factories {
		if existing.Code == f.Code {
			return core.ConflictError("factory code %q already exists", f.Code)
		}
		if strings.EqualFold(existing.Name, f.Name) {
			return core.ConflictError("factory name %q already exists", f.Name)
		}
	}
	f.ID = t.st.nextID()
	t.st.factories[f.ID] = *f
	return nil
}

func (t *tx) UpdateFactory(_ context.Context, f *core.Factory) error {
	if _, ok := t.st.factories[f.ID]; !ok {
		return core.NotFoundError("factory", f.ID)
	}
	t.st.factories[f.ID] = *f
	return nil
}

func (t *tx) GetUser(_ context.Context, id int) (*core.User, error) {
	u, ok := t.st.users[id]
	if !ok {
		return nil, core.NotFoundError("user", id)
	}
	u.FactoryIDs = slices.Clone(u.FactoryIDs)
	return &u, nil
}

func (t *tx) InsertUser(_ context.Context, u *core.User) error {
	for _, existing := range t.st.users {
		if existing.Username == u.Username {
			return core.ConflictError("username %q already exists", u.Username)
		}
		if existing.Email == u.Email {
			return core.ConflictError("email %q already exists", u.Email)
		}
	}
	u.ID = t.st.nextID()
	stored := *u
	stored.FactoryIDs = slices.Clone(u.FactoryIDs)
	t.st.users[u.ID] = stored
	return nil
}

func (t *tx) UpdateUser(_ context.Context, u *core.User) error {
	if _, ok := t.st.users[u.ID]; !ok {
		return core.NotFoundError("user", u.ID)
	}
	stored := *u
	stored.FactoryIDs = slices.Clone(u.FactoryIDs)
	t.st.users[u.ID] = stored
	return nil
}

func (t *tx) GetVendor(_ context.Context, id int) (*core.Vendor, error) {
	v, ok := t.st.vendors[id]
	if !ok {
		return nil, core.NotFoundError("vendor", id)
	}
	return &v, nil
}

func (t *tx) ListVendors(_ context.Context) ([]core.Vendor, error) {
	out := []core.Vendor{}
	for _, v := range t.st.vendors {
		if v.IsActive {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (t *tx) InsertVendor(_ context.Context, v *core.Vendor) error {
	for _, existing := range t.st.vendors {
		if existing.Code == v.Code {
			return core.ConflictError("vendor code %q already exists", v.Code)
		}
	}
	v.ID = t.st.nextID()
	t.st.vendors[v.ID] = *v
	return nil
}

func (t *tx) GetMaterial(_ context.Context, id int) (*core.Material, error) {
	m, ok := t.st.materials[id]
	if !ok {
		return nil, core.NotFoundError("material", id)
	}
	return &m, nil
}

func (t *tx) ListMaterials(_ context.Context) ([]core.Material, error) {
	out := []core.Material{}
	for _, m := range t.st.materials {
		if m.IsActive {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (t *tx) InsertMaterial(_ context.Context, m *core.Material) error {
	for _, existing := range t.st.materials {
		if existing.Code == m.Code {
			return core.ConflictError("material code %q already exists", m.Code)
		}
	}
	m.ID = t.st.nextID()
	t.st.materials[m.ID] = *m
	return nil
}

func (t *tx) NextRequestSequence(_ context.Context, factoryID, year int) (int, error) {
	k := seqKey{factoryID: factoryID, year: year}
	t.st.sequences[k]++
	return t.st.sequences[k], nil
}

func (t *tx) assignItemIDs(r *core.ProcurementRequest) {
	for i := range r.Items {
		r.Items[i].ID = t.st.nextID()
		r.Items[i].RequestID = r.ID
	}
}

func (t *tx) InsertRequest(_ context.Context, r *core.ProcurementRequest) error {
	for _, existing := range t.st.requests {
		if existing.RequestNumber == r.RequestNumber {
			return core.ConflictError("request number %q already exists", r.RequestNumber)
		}
	}
	r.ID = t.st.nextID()
	t.assignItemIDs(r)
	t.st.requests[r.ID] = core.CloneRequest(r)
	return nil
}

func (t *tx) liveRequest(id int) (*core.ProcurementRequest, error) {
	r, ok := t.st.requests[id]
	if !ok || r.DeletedAt != nil {
		return nil, core.NotFoundError("procurement request", id)
	}
	return r, nil
}

func (t *tx) GetRequest(_ context.Context, id int) (*core.ProcurementRequest, error) {
	r, err := t.liveRequest(id)
	if err != nil {
		return nil, err
	}
	return core.CloneRequest(r), nil
}

func (t *tx) LockRequest(ctx context.Context, id int) (*core.ProcurementRequest, error) {
	return t.GetRequest(ctx, id)
}

func (t *tx) ListRequests(_ context.Context, f core.RequestFilter) ([]core.ProcurementRequest, error) {
	var matched []*core.ProcurementRequest
	for _, r := range t.st.requests {
		if r.DeletedAt != nil {
			continue
		}
		if f.FactoryIDs != nil && !slices.Contains(f.FactoryIDs, r.FactoryID) {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if f.AssignedTo != nil && (r.AssignedTo == nil || *r.AssignedTo != *f.AssignedTo) {
			continue
		}
		if f.CreatedBy != nil && r.CreatedBy != *f.CreatedBy {
			continue
		}
		matched = append(matched, r)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })

	out := []core.ProcurementRequest{}
	for i, r := range matched {
		if i < f.Offset {
			continue
		}
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
		out = append(out, *core.CloneRequest(r))
	}
	return out, nil
}

func (t *tx) UpdateRequest(_ context.Context, r *core.ProcurementRequest) error {
	stored, err := t.liveRequest(r.ID)
	if err != nil {
		return err
	}
	next := core.CloneRequest(r)
	next.Items = stored.Items
	t.st.requests[r.ID] = next
	return nil
}

func (t *tx) ReplaceLineItems(_ context.Context, r *core.ProcurementRequest) error {
	stored, err := t.liveRequest(r.ID)
	if err != nil {
		return err
	}
	t.assignItemIDs(r)
	stored.Items = core.CloneRequest(r).Items
	return nil
}

func (t *tx) UpdateLineItem(_ context.Context, li *core.LineItem) error {
	stored, err := t.liveRequest(li.RequestID)
	if err != nil {
		return err
	}
	for i := range stored.Items {
		if stored.Items[i].ID == li.ID {
			stored.Items[i] = *core.CloneLineItem(li)
			return nil
		}
	}
	return core.NotFoundError("line item", li.ID)
}

func (t *tx) SoftDeleteRequest(_ context.Context, id int, at time.Time) error {
	stored, err := t.liveRequest(id)
	if err != nil {
		return err
	}
	stored.DeletedAt = &at
	return nil
}

func (t *tx) findItem(lineItemID int) (*core.ProcurementRequest, *core.LineItem) {
	for _, r := range t.st.requests {
		if r.DeletedAt != nil {
			continue
		}
		if li := r.Item(lineItemID); li != nil {
			return r, li
		}
	}
	return nil, nil
}

func (t *tx) LineItemRequestID(_ context.Context, lineItemID int) (int, error) {
	r, _ := t.findItem(lineItemID)
	if r == nil {
		return 0, core.NotFoundError("line item", lineItemID)
	}
	return r.ID, nil
}

func (t *tx) withLineItem(rr core.ReturnRequest) core.ReturnRequest {
	if _, li := t.findItem(rr.LineItemID); li != nil {
		rr.LineItem = core.CloneLineItem(li)
	}
	return rr
}

func (t *tx) InsertReturnRequest(_ context.Context, rr *core.ReturnRequest) error {
	rr.ID = t.st.nextID()
	stored := *rr
	stored.LineItem = nil
	t.st.returns[rr.ID] = stored
	return nil
}

func (t *tx) GetReturnRequest(_ context.Context, id int) (*core.ReturnRequest, error) {
	rr, ok := t.st.returns[id]
	if !ok {
		return nil, core.NotFoundError("return request", id)
	}
	rr = t.withLineItem(rr)
	return &rr, nil
}

func (t *tx) UpdateReturnRequest(_ context.Context, rr *core.ReturnRequest) error {
	if _, ok := t.st.returns[rr.ID]; !ok {
		return core.NotFoundError("return request", rr.ID)
	}
	stored := *rr
	stored.LineItem = nil
	t.st.returns[rr.ID] = stored
	return nil
}

func (t *tx) ReturnsForLineItem(_ context.Context, lineItemID int) ([]core.ReturnRequest, error) {
	out := []core.ReturnRequest{}
	for _, rr := range t.st.returns {
		if rr.LineItemID == lineItemID {
			out = append(out, rr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tx) ListReturnRequests(_ context.Context, f core.ReturnFilter) ([]core.ReturnRequest, error) {
	out := []core.ReturnRequest{}
	for _, rr := range t.st.returns {
		if f.FactoryIDs != nil && !slices.Contains(f.FactoryIDs, rr.FactoryID) {
			continue
		}
		if f.RequestID != nil && rr.RequestID != *f.RequestID {
			continue
		}
		if f.LineItemID != nil && rr.LineItemID != *f.LineItemID {
			continue
		}
		if f.Status != "" && rr.Status != f.Status {
			continue
		}
		out = append(out, t.withLineItem(rr))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (t *tx) CountPendingReturns(_ context.Context, requestID int) (int, error) {
	n := 0
	for _, rr := range t.st.returns {
		if rr.RequestID == requestID && rr.Status == core.ReturnRequested {
			n++
		}
	}
	return n, nil
}

func (t *tx) EmitHistoryRecord(_ context.Context, rec core.HistoryRecord) error {
	if t.historyErr != nil {
		return t.historyErr
	}
	t.st.history = append(t.st.history, rec)
	return nil
}

// BestEffort runs fn on a nested copy and keeps its writes only on success.
func (t *tx) BestEffort(_ context.Context, fn func(tx core.Tx) error) error {
	nested := &tx{st: t.st.clone(), historyErr: t.historyErr}
	if err := fn(nested); err != nil {
		return err
	}
	t.st = nested.st
	return nil
}
