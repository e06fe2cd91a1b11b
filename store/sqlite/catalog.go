/*
catalog.go - Tenant records, inventory, and commissions

PURPOSE:

	The CRUD half of the store: businesses, professionals, work-schedule
	entries, services, recipes, products. Plus the two guarded money/stock
	primitives:

	  DecrementStockIfSufficient - stock never goes negative; the check and
	    the decrement happen in one transaction under the write lock.
	  UpsertCommission - keyed by (appointment, professional); a commission
	    already paid out is never overwritten by resynchronization.

SEE ALSO:
  - sqlite.go: schema, appointments, availability reads
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/booking-engine/booking"
	"github.com/warp/booking-engine/commission"
)

// =============================================================================
// BUSINESSES
// =============================================================================

// SaveBusiness inserts or updates a business.
func (s *Store) SaveBusiness(ctx context.Context, b booking.Business) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO businesses (id, name, email, gateway_access_token, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			gateway_access_token = excluded.gateway_access_token
	`
	_, err := s.db.ExecContext(ctx, query,
		b.ID, b.Name, nullString(b.Email), nullString(b.GatewayAccessToken),
		time.Now().UTC().Format(time.RFC3339))
	return err
}

// GetBusiness returns a business, or nil when absent.
func (s *Store) GetBusiness(ctx context.Context, id string) (*booking.Business, error) {
	var (
		b            booking.Business
		email, token sql.NullString
		createdAt    string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, email, gateway_access_token, created_at FROM businesses WHERE id = ?", id,
	).Scan(&b.ID, &b.Name, &email, &token, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	b.Email = email.String
	b.GatewayAccessToken = token.String
	b.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &b, nil
}

// =============================================================================
// PROFESSIONALS
// =============================================================================

// SaveProfessional inserts or updates a professional.
func (s *Store) SaveProfessional(ctx context.Context, p booking.Professional) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pct sql.NullString
	if p.CommissionPercent != nil {
		pct = sql.NullString{String: p.CommissionPercent.String(), Valid: true}
	}

	query := `
		INSERT INTO professionals (id, business_id, name, email, commission_percent, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			commission_percent = excluded.commission_percent,
			active = excluded.active
	`
	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.BusinessID, p.Name, nullString(p.Email), pct, p.Active,
		time.Now().UTC().Format(time.RFC3339))
	return err
}

// GetProfessional returns a professional, or nil when absent.
func (s *Store) GetProfessional(ctx context.Context, id string) (*booking.Professional, error) {
	var (
		p          booking.Professional
		email, pct sql.NullString
		createdAt  string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, business_id, name, email, commission_percent, active, created_at FROM professionals WHERE id = ?", id,
	).Scan(&p.ID, &p.BusinessID, &p.Name, &email, &pct, &p.Active, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Email = email.String
	if pct.Valid {
		d := mustDecimal(pct.String)
		p.CommissionPercent = &d
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &p, nil
}

// SaveWorkScheduleEntry inserts or updates one recurring window.
func (s *Store) SaveWorkScheduleEntry(ctx context.Context, e booking.WorkScheduleEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO work_schedule (id, professional_id, day, start_min, end_min, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			day = excluded.day,
			start_min = excluded.start_min,
			end_min = excluded.end_min,
			active = excluded.active
	`
	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.ProfessionalID, e.Day, e.StartMin, e.EndMin, e.Active,
		time.Now().UTC().Format(time.RFC3339))
	return err
}

// =============================================================================
// SERVICES & RECIPES
// =============================================================================

// SaveService inserts or updates a service.
func (s *Store) SaveService(ctx context.Context, svc booking.Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO services (id, business_id, name, duration_min, price, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			duration_min = excluded.duration_min,
			price = excluded.price,
			active = excluded.active
	`
	_, err := s.db.ExecContext(ctx, query,
		svc.ID, svc.BusinessID, svc.Name, svc.DurationMin, svc.Price.String(), svc.Active,
		time.Now().UTC().Format(time.RFC3339))
	return err
}

// GetService returns a service, or nil when absent.
func (s *Store) GetService(ctx context.Context, id string) (*booking.Service, error) {
	var (
		svc       booking.Service
		price     string
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, business_id, name, duration_min, price, active, created_at FROM services WHERE id = ?", id,
	).Scan(&svc.ID, &svc.BusinessID, &svc.Name, &svc.DurationMin, &price, &svc.Active, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	svc.Price = mustDecimal(price)
	return &svc, nil
}

// SaveRecipeItem sets the per-use quantity of one product for a service.
func (s *Store) SaveRecipeItem(ctx context.Context, item booking.RecipeItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO service_recipes (service_id, product_id, quantity_per_use)
		VALUES (?, ?, ?)
		ON CONFLICT(service_id, product_id) DO UPDATE SET
			quantity_per_use = excluded.quantity_per_use
	`
	_, err := s.db.ExecContext(ctx, query,
		item.ServiceID, item.ProductID, item.QuantityPerUse.String())
	return err
}

// RecipeForService lists the products a service consumes per use. Empty
// means completion consumes no stock.
func (s *Store) RecipeForService(ctx context.Context, serviceID string) ([]booking.RecipeItem, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT service_id, product_id, quantity_per_use FROM service_recipes WHERE service_id = ?",
		serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []booking.RecipeItem
	for rows.Next() {
		var (
			item booking.RecipeItem
			qty  string
		)
		if err := rows.Scan(&item.ServiceID, &item.ProductID, &qty); err != nil {
			return nil, err
		}
		item.QuantityPerUse = mustDecimal(qty)
		items = append(items, item)
	}
	return items, rows.Err()
}

// =============================================================================
// PRODUCTS & INVENTORY
// =============================================================================

// SaveProduct inserts or updates a product. Stock changes should go
// through AddStock / DecrementStockIfSufficient so movements are recorded.
func (s *Store) SaveProduct(ctx context.Context, p booking.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO products (id, business_id, name, quantity, unit, reorder_threshold, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			unit = excluded.unit,
			reorder_threshold = excluded.reorder_threshold
	`
	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.BusinessID, p.Name, p.Quantity.String(), nullString(p.Unit),
		p.ReorderThreshold.String(), time.Now().UTC().Format(time.RFC3339))
	return err
}

// GetProduct returns a product, or nil when absent.
func (s *Store) GetProduct(ctx context.Context, id string) (*booking.Product, error) {
	var (
		p         booking.Product
		qty, thr  string
		unit      sql.NullString
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, business_id, name, quantity, unit, reorder_threshold, created_at FROM products WHERE id = ?", id,
	).Scan(&p.ID, &p.BusinessID, &p.Name, &qty, &unit, &thr, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Quantity = mustDecimal(qty)
	p.Unit = unit.String
	p.ReorderThreshold = mustDecimal(thr)
	return &p, nil
}

// ListProducts returns a business's products.
func (s *Store) ListProducts(ctx context.Context, businessID string) ([]booking.Product, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, business_id, name, quantity, unit, reorder_threshold, created_at FROM products WHERE business_id = ? ORDER BY name",
		businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []booking.Product
	for rows.Next() {
		var (
			p         booking.Product
			qty, thr  string
			unit      sql.NullString
			createdAt string
		)
		if err := rows.Scan(&p.ID, &p.BusinessID, &p.Name, &qty, &unit, &thr, &createdAt); err != nil {
			return nil, err
		}
		p.Quantity = mustDecimal(qty)
		p.Unit = unit.String
		p.ReorderThreshold = mustDecimal(thr)
		products = append(products, p)
	}
	return products, rows.Err()
}

// DecrementStockIfSufficient atomically decrements a product's stock when
// at least qty is on hand. The read and the write share one transaction
// under the write lock, so stock can never go negative.
func (s *Store) DecrementStockIfSufficient(ctx context.Context, productID string, qty decimal.Decimal) (bool, decimal.Decimal, decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, decimal.Zero, decimal.Zero, err
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT quantity FROM products WHERE id = ?", productID).Scan(&current)
	if err == sql.ErrNoRows {
		return false, decimal.Zero, decimal.Zero, fmt.Errorf("product %s: %w", productID, booking.ErrNotFound)
	}
	if err != nil {
		return false, decimal.Zero, decimal.Zero, err
	}

	before := mustDecimal(current)
	if before.LessThan(qty) {
		return false, before, before, nil
	}
	after := before.Sub(qty)

	if _, err := tx.ExecContext(ctx,
		"UPDATE products SET quantity = ? WHERE id = ?", after.String(), productID); err != nil {
		return false, before, before, err
	}
	if err := tx.Commit(); err != nil {
		return false, before, before, err
	}
	return true, before, after, nil
}

// AddStock increments a product's stock and records the movement.
func (s *Store) AddStock(ctx context.Context, productID string, qty decimal.Decimal, movementID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT quantity FROM products WHERE id = ?", productID).Scan(&current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("product %s: %w", productID, booking.ErrNotFound)
	}
	if err != nil {
		return err
	}

	before := mustDecimal(current)
	after := before.Add(qty)

	if _, err := tx.ExecContext(ctx,
		"UPDATE products SET quantity = ? WHERE id = ?", after.String(), productID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO inventory_movements
		(id, product_id, type, quantity, quantity_before, quantity_after, reason, appointment_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?)`,
		movementID, productID, string(booking.MovementIn),
		qty.String(), before.String(), after.String(), nullString(reason),
		time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	return tx.Commit()
}

// AppendInventoryMovement records one stock change. Append-only.
func (s *Store) AppendInventoryMovement(ctx context.Context, mv booking.InventoryMovement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_movements
		(id, product_id, type, quantity, quantity_before, quantity_after, reason, appointment_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		mv.ID, mv.ProductID, string(mv.Type),
		mv.Quantity.String(), mv.QuantityBefore.String(), mv.QuantityAfter.String(),
		nullString(mv.Reason), nullString(mv.AppointmentID),
		mv.CreatedAt.UTC().Format(time.RFC3339))
	return err
}

// ListMovements returns a product's movements, newest first.
func (s *Store) ListMovements(ctx context.Context, productID string) ([]booking.InventoryMovement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, type, quantity, quantity_before, quantity_after, reason, appointment_id, created_at
		FROM inventory_movements WHERE product_id = ? ORDER BY created_at DESC`,
		productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var movements []booking.InventoryMovement
	for rows.Next() {
		var (
			mv                 booking.InventoryMovement
			mvType             string
			qty, before, after string
			reason, apptID     sql.NullString
			createdAt          string
		)
		if err := rows.Scan(&mv.ID, &mv.ProductID, &mvType, &qty, &before, &after, &reason, &apptID, &createdAt); err != nil {
			return nil, err
		}
		mv.Type = booking.MovementType(mvType)
		mv.Quantity = mustDecimal(qty)
		mv.QuantityBefore = mustDecimal(before)
		mv.QuantityAfter = mustDecimal(after)
		mv.Reason = reason.String
		mv.AppointmentID = apptID.String
		mv.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		movements = append(movements, mv)
	}
	return movements, rows.Err()
}

// =============================================================================
// COMMISSIONS (commission.Store)
// =============================================================================

// SetCommissionOverride sets the per-(professional, service) percentage.
func (s *Store) SetCommissionOverride(ctx context.Context, professionalID, serviceID string, percent decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO commission_overrides (professional_id, service_id, percent)
		VALUES (?, ?, ?)
		ON CONFLICT(professional_id, service_id) DO UPDATE SET
			percent = excluded.percent
	`
	_, err := s.db.ExecContext(ctx, query, professionalID, serviceID, percent.String())
	return err
}

// CommissionOverride returns the override percentage, or nil when none.
func (s *Store) CommissionOverride(ctx context.Context, professionalID, serviceID string) (*decimal.Decimal, error) {
	var pct string
	err := s.db.QueryRowContext(ctx,
		"SELECT percent FROM commission_overrides WHERE professional_id = ? AND service_id = ?",
		professionalID, serviceID).Scan(&pct)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	d := mustDecimal(pct)
	return &d, nil
}

// UpsertCommission inserts or updates the commission keyed by
// (appointment, professional). A row already paid is left untouched; the
// returned flag reports whether the write happened.
func (s *Store) UpsertCommission(ctx context.Context, c commission.Commission) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO commissions
		(id, business_id, professional_id, appointment_id, service_amount, percentage, commission_amount, status, generated_at, paid_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(appointment_id, professional_id) DO UPDATE SET
			service_amount = excluded.service_amount,
			percentage = excluded.percentage,
			commission_amount = excluded.commission_amount,
			generated_at = excluded.generated_at
		WHERE commissions.status != 'paid'
	`
	res, err := s.db.ExecContext(ctx, query,
		c.ID, c.BusinessID, c.ProfessionalID, c.AppointmentID,
		c.ServiceAmount.String(), c.Percentage.String(), c.Amount.String(),
		string(c.Status), c.GeneratedAt.UTC().Format(time.RFC3339), nullTime(c.PaidAt))
	if err != nil {
		return false, fmt.Errorf("failed to upsert commission: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkCommissionPaid flips a pending commission to paid. Idempotent: a
// commission already paid keeps its original paid_at.
func (s *Store) MarkCommissionPaid(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE commissions SET status = 'paid', paid_at = ? WHERE id = ? AND status = 'pending'",
		time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListCommissions returns a business's commissions, newest first.
func (s *Store) ListCommissions(ctx context.Context, businessID string) ([]commission.Commission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, business_id, professional_id, appointment_id, service_amount, percentage, commission_amount, status, generated_at, paid_at
		FROM commissions WHERE business_id = ? ORDER BY generated_at DESC`,
		businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var commissions []commission.Commission
	for rows.Next() {
		var (
			c                  commission.Commission
			amount, pct, total string
			status             string
			generatedAt        string
			paidAt             sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.BusinessID, &c.ProfessionalID, &c.AppointmentID,
			&amount, &pct, &total, &status, &generatedAt, &paidAt); err != nil {
			return nil, err
		}
		c.ServiceAmount = mustDecimal(amount)
		c.Percentage = mustDecimal(pct)
		c.Amount = mustDecimal(total)
		c.Status = commission.Status(status)
		c.GeneratedAt, _ = time.Parse(time.RFC3339, generatedAt)
		c.PaidAt = parseNullTime(paidAt)
		commissions = append(commissions, c)
	}
	return commissions, rows.Err()
}
