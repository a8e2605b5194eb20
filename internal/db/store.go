package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"factory-procurement/internal/core"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the PostgreSQL implementation of core.Store.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a Store on pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var _ core.Store = (*Store)(nil)

// InTx runs fn inside one database transaction. fn's error rolls back.
func (s *Store) InTx(ctx context.Context, fn func(tx core.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

var _ core.Tx = (*pgTx)(nil)

// uniqueViolation maps a PostgreSQL unique violation to a core Conflict.
func uniqueViolation(err error, what string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return core.ConflictError("%s already exists (%s)", what, pgErr.ConstraintName)
	}
	return fmt.Errorf("insert %s: %w", what, err)
}

func notFoundOr(err error, entity string, id int) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return core.NotFoundError(entity, id)
	}
	return fmt.Errorf("load %s %d: %w", entity, id, err)
}

func requireRow(tag pgconn.CommandTag, entity string, id int) error {
	if tag.RowsAffected() == 0 {
		return core.NotFoundError(entity, id)
	}
	return nil
}

// --- factories ---

const factoryColumns = `id, code, name, is_active, created_at`

func scanFactory(row pgx.Row, f *core.Factory) error {
	return row.Scan(&f.ID, &f.Code, &f.Name, &f.IsActive, &f.CreatedAt)
}

func (t *pgTx) GetFactory(ctx context.Context, id int) (*core.Factory, error) {
	f := &core.Factory{}
	err := scanFactory(t.tx.QueryRow(ctx, `SELECT `+factoryColumns+` FROM factories WHERE id = $1`, id), f)
	if err != nil {
		return nil, notFoundOr(err, "factory", id)
	}
	return f, nil
}

func (t *pgTx) ListFactories(ctx context.Context, ids []int) ([]core.Factory, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if ids == nil {
		rows, err = t.tx.Query(ctx, `SELECT `+factoryColumns+` FROM factories ORDER BY code`)
	} else {
		rows, err = t.tx.Query(ctx, `SELECT `+factoryColumns+` FROM factories WHERE id = ANY($1) ORDER BY code`, ids)
	}
	if err != nil {
		return nil, fmt.Errorf("list factories: %w", err)
	}
	defer rows.Close()

	out := []core.Factory{}
	for rows.Next() {
		var f core.Factory
		if err := scanFactory(rows, &f); err != nil {
			return nil, fmt.Errorf("scan factory: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertFactory(ctx context.Context, f *core.Factory) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO factories (code, name, is_active, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		f.Code, f.Name, f.IsActive, f.CreatedAt,
	).Scan(&f.ID)
	if err != nil {
		return uniqueViolation(err, "factory "+f.Code)
	}
	return nil
}

func (t *pgTx) UpdateFactory(ctx context.Context, f *core.Factory) error {
	tag, err := t.tx.Exec(ctx, `UPDATE factories SET name = $2, is_active = $3 WHERE id = $1`, f.ID, f.Name, f.IsActive)
	if err != nil {
		return fmt.Errorf("update factory %d: %w", f.ID, err)
	}
	return requireRow(tag, "factory", f.ID)
}

// --- users ---

func (t *pgTx) GetUser(ctx context.Context, id int) (*core.User, error) {
	u := &core.User{}
	err := t.tx.QueryRow(ctx, `
		SELECT u.id, u.username, u.email, u.role, u.is_active, u.created_at,
		       COALESCE(array_agg(uf.factory_id ORDER BY uf.factory_id) FILTER (WHERE uf.factory_id IS NOT NULL), '{}')
		FROM users u
		LEFT JOIN user_factories uf ON uf.user_id = u.id
		WHERE u.id = $1
		GROUP BY u.id`,
		id,
	).Scan(&u.ID, &u.Username, &u.Email, &u.Role, &u.IsActive, &u.CreatedAt, &u.FactoryIDs)
	if err != nil {
		return nil, notFoundOr(err, "user", id)
	}
	return u, nil
}

func (t *pgTx) InsertUser(ctx context.Context, u *core.User) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO users (username, email, role, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		u.Username, u.Email, u.Role, u.IsActive, u.CreatedAt,
	).Scan(&u.ID)
	if err != nil {
		return uniqueViolation(err, "user "+u.Username)
	}
	return t.replaceUserFactories(ctx, u)
}

func (t *pgTx) UpdateUser(ctx context.Context, u *core.User) error {
	tag, err := t.tx.Exec(ctx, `UPDATE users SET email = $2, role = $3, is_active = $4 WHERE id = $1`,
		u.ID, u.Email, u.Role, u.IsActive)
	if err != nil {
		return uniqueViolation(err, "user "+u.Username)
	}
	if err := requireRow(tag, "user", u.ID); err != nil {
		return err
	}
	return t.replaceUserFactories(ctx, u)
}

func (t *pgTx) replaceUserFactories(ctx context.Context, u *core.User) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM user_factories WHERE user_id = $1`, u.ID); err != nil {
		return fmt.Errorf("clear factories of user %d: %w", u.ID, err)
	}
	if len(u.FactoryIDs) == 0 {
		return nil
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO user_factories (user_id, factory_id)
		SELECT $1, unnest($2::int[])`,
		u.ID, u.FactoryIDs,
	)
	if err != nil {
		return fmt.Errorf("assign factories to user %d: %w", u.ID, err)
	}
	return nil
}

// --- vendors and materials ---

const vendorColumns = `id, code, name, email, phone, is_active, created_at`

func scanVendor(row pgx.Row, v *core.Vendor) error {
	return row.Scan(&v.ID, &v.Code, &v.Name, &v.Email, &v.Phone, &v.IsActive, &v.CreatedAt)
}

func (t *pgTx) GetVendor(ctx context.Context, id int) (*core.Vendor, error) {
	v := &core.Vendor{}
	if err := scanVendor(t.tx.QueryRow(ctx, `SELECT `+vendorColumns+` FROM vendors WHERE id = $1`, id), v); err != nil {
		return nil, notFoundOr(err, "vendor", id)
	}
	return v, nil
}

func (t *pgTx) ListVendors(ctx context.Context) ([]core.Vendor, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+vendorColumns+` FROM vendors WHERE is_active = true ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("list vendors: %w", err)
	}
	defer rows.Close()

	out := []core.Vendor{}
	for rows.Next() {
		var v core.Vendor
		if err := scanVendor(rows, &v); err != nil {
			return nil, fmt.Errorf("scan vendor: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertVendor(ctx context.Context, v *core.Vendor) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO vendors (code, name, email, phone, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		v.Code, v.Name, v.Email, v.Phone, v.IsActive, v.CreatedAt,
	).Scan(&v.ID)
	if err != nil {
		return uniqueViolation(err, "vendor "+v.Code)
	}
	return nil
}

const materialColumns = `id, code, name, unit, is_active, created_at`

func scanMaterial(row pgx.Row, m *core.Material) error {
	return row.Scan(&m.ID, &m.Code, &m.Name, &m.Unit, &m.IsActive, &m.CreatedAt)
}

func (t *pgTx) GetMaterial(ctx context.Context, id int) (*core.Material, error) {
	m := &core.Material{}
	if err := scanMaterial(t.tx.QueryRow(ctx, `SELECT `+materialColumns+` FROM materials WHERE id = $1`, id), m); err != nil {
		return nil, notFoundOr(err, "material", id)
	}
	return m, nil
}

func (t *pgTx) ListMaterials(ctx context.Context) ([]core.Material, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+materialColumns+` FROM materials WHERE is_active = true ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("list materials: %w", err)
	}
	defer rows.Close()

	out := []core.Material{}
	for rows.Next() {
		var m core.Material
		if err := scanMaterial(rows, &m); err != nil {
			return nil, fmt.Errorf("scan material: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertMaterial(ctx context.Context, m *core.Material) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO materials (code, name, unit, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		m.Code, m.Name, m.Unit, m.IsActive, m.CreatedAt,
	).Scan(&m.ID)
	if err != nil {
		return uniqueViolation(err, "material "+m.Code)
	}
	return nil
}

// --- requests ---

func (t *pgTx) NextRequestSequence(ctx context.Context, factoryID, year int) (int, error) {
	var seq int
	err := t.tx.QueryRow(ctx, `
		INSERT INTO request_sequences (factory_id, year, last_value)
		VALUES ($1, $2, 1)
		ON CONFLICT (factory_id, year) DO UPDATE SET last_value = request_sequences.last_value + 1
		RETURNING last_value`,
		factoryID, year,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next sequence for factory %d: %w", factoryID, err)
	}
	return seq, nil
}

const requestSelect = `
	SELECT r.id, r.request_number, r.factory_id, f.code, r.created_by, r.assigned_to,
	       r.status, r.priority, r.requires_approval, r.approved_by, r.approved_at,
	       r.short_closed, r.short_close_reason, r.notes, r.deleted_at, r.created_at, r.updated_at
	FROM procurement_requests r
	JOIN factories f ON f.id = r.factory_id`

func scanRequest(row pgx.Row, r *core.ProcurementRequest) error {
	return row.Scan(
		&r.ID, &r.RequestNumber, &r.FactoryID, &r.FactoryCode, &r.CreatedBy, &r.AssignedTo,
		&r.Status, &r.Priority, &r.RequiresApproval, &r.ApprovedBy, &r.ApprovedAt,
		&r.ShortClosed, &r.ShortCloseReason, &r.Notes, &r.DeletedAt, &r.CreatedAt, &r.UpdatedAt,
	)
}

const lineItemSelect = `
	SELECT li.id, li.request_id, li.line_number, li.material_id, m.code, m.name, m.unit,
	       li.requested_quantity, li.assigned_vendor_id, v.code, v.name, li.assigned_price,
	       li.actual_quantity, li.status, li.short_closed, li.short_close_reason,
	       li.total_returned_quantity, li.has_returns, li.received_by, li.received_at,
	       li.created_at, li.updated_at
	FROM request_line_items li
	JOIN materials m ON m.id = li.material_id
	LEFT JOIN vendors v ON v.id = li.assigned_vendor_id`

func scanLineItem(row pgx.Row, li *core.LineItem) error {
	var (
		vendorID   *int
		vendorCode *string
		vendorName *string
	)
	err := row.Scan(
		&li.ID, &li.RequestID, &li.LineNumber, &li.MaterialID, &li.MaterialCode, &li.MaterialName, &li.Unit,
		&li.RequestedQuantity, &vendorID, &vendorCode, &vendorName, &li.AssignedPrice,
		&li.ActualQuantity, &li.Status, &li.ShortClosed, &li.ShortCloseReason,
		&li.TotalReturnedQuantity, &li.HasReturns, &li.ReceivedBy, &li.ReceivedAt,
		&li.CreatedAt, &li.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if vendorID != nil {
		li.AssignedVendor = &core.VendorRef{ID: *vendorID}
		if vendorCode != nil {
			li.AssignedVendor.Code = *vendorCode
		}
		if vendorName != nil {
			li.AssignedVendor.Name = *vendorName
		}
	}
	return nil
}

func (t *pgTx) queryLineItems(ctx context.Context, where string, args ...any) ([]core.LineItem, error) {
	rows, err := t.tx.Query(ctx, lineItemSelect+" WHERE "+where+" ORDER BY li.request_id, li.line_number", args...)
	if err != nil {
		return nil, fmt.Errorf("query line items: %w", err)
	}
	defer rows.Close()

	var out []core.LineItem
	for rows.Next() {
		var li core.LineItem
		if err := scanLineItem(rows, &li); err != nil {
			return nil, fmt.Errorf("scan line item: %w", err)
		}
		out = append(out, li)
	}
	return out, rows.Err()
}

func (t *pgTx) loadRequest(ctx context.Context, id int, lock bool) (*core.ProcurementRequest, error) {
	q := requestSelect + ` WHERE r.id = $1 AND r.deleted_at IS NULL`
	if lock {
		q += ` FOR UPDATE OF r`
	}
	r := &core.ProcurementRequest{}
	if err := scanRequest(t.tx.QueryRow(ctx, q, id), r); err != nil {
		return nil, notFoundOr(err, "procurement request", id)
	}
	items, err := t.queryLineItems(ctx, "li.request_id = $1", id)
	if err != nil {
		return nil, err
	}
	r.Items = items
	return r, nil
}

func (t *pgTx) GetRequest(ctx context.Context, id int) (*core.ProcurementRequest, error) {
	return t.loadRequest(ctx, id, false)
}

// LockRequest takes a row lock on the request that serializes every line item
// mutation of that request.
func (t *pgTx) LockRequest(ctx context.Context, id int) (*core.ProcurementRequest, error) {
	return t.loadRequest(ctx, id, true)
}

func (t *pgTx) ListRequests(ctx context.Context, f core.RequestFilter) ([]core.ProcurementRequest, error) {
	conds := []string{"r.deleted_at IS NULL"}
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.FactoryIDs != nil {
		conds = append(conds, "r.factory_id = ANY("+arg(f.FactoryIDs)+")")
	}
	if f.Status != "" {
		conds = append(conds, "r.status = "+arg(f.Status))
	}
	if f.AssignedTo != nil {
		conds = append(conds, "r.assigned_to = "+arg(*f.AssignedTo))
	}
	if f.CreatedBy != nil {
		conds = append(conds, "r.created_by = "+arg(*f.CreatedBy))
	}
	q := requestSelect + " WHERE " + strings.Join(conds, " AND ") + " ORDER BY r.id DESC"
	if f.Limit > 0 {
		q += " LIMIT " + arg(f.Limit)
	}
	if f.Offset > 0 {
		q += " OFFSET " + arg(f.Offset)
	}

	rows, err := t.tx.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	out := []core.ProcurementRequest{}
	index := map[int]int{}
	var ids []int
	for rows.Next() {
		var r core.ProcurementRequest
		if err := scanRequest(rows, &r); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan request: %w", err)
		}
		index[r.ID] = len(out)
		ids = append(ids, r.ID)
		out = append(out, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return out, nil
	}

	items, err := t.queryLineItems(ctx, "li.request_id = ANY($1)", ids)
	if err != nil {
		return nil, err
	}
	for _, li := range items {
		r := &out[index[li.RequestID]]
		r.Items = append(r.Items, li)
	}
	return out, nil
}

func (t *pgTx) InsertRequest(ctx context.Context, r *core.ProcurementRequest) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO procurement_requests (request_number, factory_id, created_by, assigned_to, status, priority,
		                                  requires_approval, approved_by, approved_at, short_closed,
		                                  short_close_reason, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`,
		r.RequestNumber, r.FactoryID, r.CreatedBy, r.AssignedTo, r.Status, r.Priority,
		r.RequiresApproval, r.ApprovedBy, r.ApprovedAt, r.ShortClosed,
		r.ShortCloseReason, r.Notes, r.CreatedAt, r.UpdatedAt,
	).Scan(&r.ID)
	if err != nil {
		return uniqueViolation(err, "request "+r.RequestNumber)
	}
	return t.insertLineItems(ctx, r)
}

func (t *pgTx) insertLineItems(ctx context.Context, r *core.ProcurementRequest) error {
	for i := range r.Items {
		li := &r.Items[i]
		li.RequestID = r.ID
		var vendorID *int
		if li.AssignedVendor != nil {
			vendorID = &li.AssignedVendor.ID
		}
		err := t.tx.QueryRow(ctx, `
			INSERT INTO request_line_items (request_id, line_number, material_id, requested_quantity,
			                                assigned_vendor_id, assigned_price, actual_quantity, status,
			                                short_closed, short_close_reason, total_returned_quantity,
			                                has_returns, received_by, received_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			RETURNING id`,
			li.RequestID, li.LineNumber, li.MaterialID, li.RequestedQuantity,
			vendorID, li.AssignedPrice, li.ActualQuantity, li.Status,
			li.ShortClosed, li.ShortCloseReason, li.TotalReturnedQuantity,
			li.HasReturns, li.ReceivedBy, li.ReceivedAt, li.CreatedAt, li.UpdatedAt,
		).Scan(&li.ID)
		if err != nil {
			return fmt.Errorf("insert line %d of request %d: %w", li.LineNumber, r.ID, err)
		}
	}
	return nil
}

func (t *pgTx) UpdateRequest(ctx context.Context, r *core.ProcurementRequest) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE procurement_requests
		SET factory_id = $2, assigned_to = $3, status = $4, priority = $5, requires_approval = $6,
		    approved_by = $7, approved_at = $8, short_closed = $9, short_close_reason = $10,
		    notes = $11, updated_at = $12
		WHERE id = $1 AND deleted_at IS NULL`,
		r.ID, r.FactoryID, r.AssignedTo, r.Status, r.Priority, r.RequiresApproval,
		r.ApprovedBy, r.ApprovedAt, r.ShortClosed, r.ShortCloseReason,
		r.Notes, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update request %d: %w", r.ID, err)
	}
	return requireRow(tag, "procurement request", r.ID)
}

func (t *pgTx) ReplaceLineItems(ctx context.Context, r *core.ProcurementRequest) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM request_line_items WHERE request_id = $1`, r.ID); err != nil {
		return fmt.Errorf("delete line items of request %d: %w", r.ID, err)
	}
	return t.insertLineItems(ctx, r)
}

func (t *pgTx) UpdateLineItem(ctx context.Context, li *core.LineItem) error {
	var vendorID *int
	if li.AssignedVendor != nil {
		vendorID = &li.AssignedVendor.ID
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE request_line_items
		SET assigned_vendor_id = $2, assigned_price = $3, actual_quantity = $4, status = $5,
		    short_closed = $6, short_close_reason = $7, total_returned_quantity = $8,
		    has_returns = $9, received_by = $10, received_at = $11, updated_at = $12
		WHERE id = $1`,
		li.ID, vendorID, li.AssignedPrice, li.ActualQuantity, li.Status,
		li.ShortClosed, li.ShortCloseReason, li.TotalReturnedQuantity,
		li.HasReturns, li.ReceivedBy, li.ReceivedAt, li.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update line item %d: %w", li.ID, err)
	}
	return requireRow(tag, "line item", li.ID)
}

func (t *pgTx) SoftDeleteRequest(ctx context.Context, id int, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE procurement_requests SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("delete request %d: %w", id, err)
	}
	return requireRow(tag, "procurement request", id)
}

func (t *pgTx) LineItemRequestID(ctx context.Context, lineItemID int) (int, error) {
	var requestID int
	err := t.tx.QueryRow(ctx, `
		SELECT li.request_id
		FROM request_line_items li
		JOIN procurement_requests r ON r.id = li.request_id
		WHERE li.id = $1 AND r.deleted_at IS NULL`,
		lineItemID,
	).Scan(&requestID)
	if err != nil {
		return 0, notFoundOr(err, "line item", lineItemID)
	}
	return requestID, nil
}

// --- returns ---

const returnSelect = `
	SELECT id, line_item_id, request_id, factory_id, quantity, reason, status,
	       requested_by, approved_by, approved_at, created_at
	FROM return_requests`

func scanReturn(row pgx.Row, rr *core.ReturnRequest) error {
	return row.Scan(
		&rr.ID, &rr.LineItemID, &rr.RequestID, &rr.FactoryID, &rr.Quantity, &rr.Reason, &rr.Status,
		&rr.RequestedBy, &rr.ApprovedBy, &rr.ApprovedAt, &rr.CreatedAt,
	)
}

func (t *pgTx) queryReturns(ctx context.Context, q string, args ...any) ([]core.ReturnRequest, error) {
	rows, err := t.tx.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query return requests: %w", err)
	}
	defer rows.Close()

	out := []core.ReturnRequest{}
	for rows.Next() {
		var rr core.ReturnRequest
		if err := scanReturn(rows, &rr); err != nil {
			return nil, fmt.Errorf("scan return request: %w", err)
		}
		out = append(out, rr)
	}
	return out, rows.Err()
}

// attachLineItems fills the nested line item of every return.
func (t *pgTx) attachLineItems(ctx context.Context, returns []core.ReturnRequest) error {
	if len(returns) == 0 {
		return nil
	}
	ids := make([]int, 0, len(returns))
	for _, rr := range returns {
		ids = append(ids, rr.LineItemID)
	}
	items, err := t.queryLineItems(ctx, "li.id = ANY($1)", ids)
	if err != nil {
		return err
	}
	byID := make(map[int]*core.LineItem, len(items))
	for i := range items {
		byID[items[i].ID] = &items[i]
	}
	for i := range returns {
		if li, ok := byID[returns[i].LineItemID]; ok {
			returns[i].LineItem = core.CloneLineItem(li)
		}
	}
	return nil
}

func (t *pgTx) InsertReturnRequest(ctx context.Context, rr *core.ReturnRequest) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO return_requests (line_item_id, request_id, factory_id, quantity, reason, status,
		                             requested_by, approved_by, approved_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		rr.LineItemID, rr.RequestID, rr.FactoryID, rr.Quantity, rr.Reason, rr.Status,
		rr.RequestedBy, rr.ApprovedBy, rr.ApprovedAt, rr.CreatedAt,
	).Scan(&rr.ID)
	if err != nil {
		return uniqueViolation(err, "return request")
	}
	return nil
}

func (t *pgTx) GetReturnRequest(ctx context.Context, id int) (*core.ReturnRequest, error) {
	rr := &core.ReturnRequest{}
	if err := scanReturn(t.tx.QueryRow(ctx, returnSelect+` WHERE id = $1`, id), rr); err != nil {
		return nil, notFoundOr(err, "return request", id)
	}
	one := []core.ReturnRequest{*rr}
	if err := t.attachLineItems(ctx, one); err != nil {
		return nil, err
	}
	return &one[0], nil
}

func (t *pgTx) UpdateReturnRequest(ctx context.Context, rr *core.ReturnRequest) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE return_requests SET status = $2, approved_by = $3, approved_at = $4
		WHERE id = $1`,
		rr.ID, rr.Status, rr.ApprovedBy, rr.ApprovedAt,
	)
	if err != nil {
		return fmt.Errorf("update return request %d: %w", rr.ID, err)
	}
	return requireRow(tag, "return request", rr.ID)
}

func (t *pgTx) ReturnsForLineItem(ctx context.Context, lineItemID int) ([]core.ReturnRequest, error) {
	return t.queryReturns(ctx, returnSelect+` WHERE line_item_id = $1 ORDER BY id`, lineItemID)
}

func (t *pgTx) ListReturnRequests(ctx context.Context, f core.ReturnFilter) ([]core.ReturnRequest, error) {
	conds := []string{"true"}
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.FactoryIDs != nil {
		conds = append(conds, "factory_id = ANY("+arg(f.FactoryIDs)+")")
	}
	if f.RequestID != nil {
		conds = append(conds, "request_id = "+arg(*f.RequestID))
	}
	if f.LineItemID != nil {
		conds = append(conds, "line_item_id = "+arg(*f.LineItemID))
	}
	if f.Status != "" {
		conds = append(conds, "status = "+arg(f.Status))
	}
	out, err := t.queryReturns(ctx, returnSelect+" WHERE "+strings.Join(conds, " AND ")+" ORDER BY id DESC", args...)
	if err != nil {
		return nil, err
	}
	if err := t.attachLineItems(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *pgTx) CountPendingReturns(ctx context.Context, requestID int) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx,
		`SELECT count(*) FROM return_requests WHERE request_id = $1 AND status = $2`,
		requestID, core.ReturnRequested,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending returns of request %d: %w", requestID, err)
	}
	return n, nil
}

// --- effects ---

func (t *pgTx) EmitHistoryRecord(ctx context.Context, rec core.HistoryRecord) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO procurement_history (kind, request_id, line_item_id, factory_id, material_id,
		                                 vendor_id, price, quantity, recorded_by, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.Kind, rec.RequestID, rec.LineItemID, rec.FactoryID, rec.MaterialID,
		rec.VendorID, rec.Price, rec.Quantity, rec.RecordedBy, rec.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("insert %s history: %w", rec.Kind, err)
	}
	return nil
}

// BestEffort runs fn inside a savepoint so that its failure rolls back only
// its own writes.
func (t *pgTx) BestEffort(ctx context.Context, fn func(tx core.Tx) error) error {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	if err := fn(&pgTx{tx: sp}); err != nil {
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return sp.Commit(ctx)
}
