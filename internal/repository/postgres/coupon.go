package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/repository"
	"github.com/utafrali/storefront/pkg/database"
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

const couponColumns = `id, code, description, discount_type, discount_value,
		       min_order_amount, max_uses, current_uses, expires_at, is_active,
		       created_at, updated_at`

// CouponRepository implements repository.CouponRepository using PostgreSQL.
type CouponRepository struct {
	db database.DBTX
}

// NewCouponRepository creates a new PostgreSQL-backed coupon repository.
func NewCouponRepository(db database.DBTX) *CouponRepository {
	return &CouponRepository{db: db}
}

// Create inserts a new coupon.
func (r *CouponRepository) Create(ctx context.Context, c *domain.Coupon) (err error) {
	query := `
		INSERT INTO coupons (
			id, code, description, discount_type, discount_value,
			min_order_amount, max_uses, current_uses, expires_at, is_active,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	ctx, end := database.TraceQuery(ctx, "CreateCoupon", query)
	defer func() { end(err) }()

	_, err = r.db.Exec(ctx, query,
		c.ID,
		c.Code,
		c.Description,
		string(c.DiscountType),
		c.DiscountValue,
		c.MinOrderAmount,
		c.MaxUses,
		c.CurrentUses,
		c.ExpiresAt,
		c.IsActive,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("coupon", "code", c.Code)
		}
		return fmt.Errorf("insert coupon: %w", err)
	}
	return nil
}

// GetByID retrieves a coupon by id.
func (r *CouponRepository) GetByID(ctx context.Context, id string) (*domain.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1`
	return r.getOne(ctx, "GetCouponByID", query, id)
}

// GetByCode retrieves a coupon by its normalized code.
func (r *CouponRepository) GetByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`
	return r.getOne(ctx, "GetCouponByCode", query, code)
}

func (r *CouponRepository) getOne(ctx context.Context, op, query, key string) (_ *domain.Coupon, err error) {
	ctx, end := database.TraceQuery(ctx, op, query)
	defer func() {
		if errors.Is(err, apperrors.ErrNotFound) {
			end(nil)
			return
		}
		end(err)
	}()

	c, err := scanCoupon(r.db.QueryRow(ctx, query, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("coupon", key)
		}
		return nil, fmt.Errorf("get coupon: %w", err)
	}
	return c, nil
}

// List returns coupons matching filter, newest first, with the total count.
func (r *CouponRepository) List(ctx context.Context, filter repository.CouponFilter) (_ []domain.Coupon, _ int, err error) {
	var (
		conditions []string
		args       []any
		argIndex   = 1
	)
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("is_active = $%d", argIndex))
		args = append(args, *filter.Active)
		argIndex++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT %s, count(*) OVER() AS total_count
		FROM coupons
		%s
		ORDER BY created_at DESC, code
		LIMIT $%d OFFSET $%d`,
		couponColumns, whereClause, argIndex, argIndex+1,
	)

	limit := filter.PerPage
	if limit <= 0 {
		limit = 20
	}
	offset := 0
	if filter.Page > 1 {
		offset = (filter.Page - 1) * limit
	}
	args = append(args, limit, offset)

	ctx, end := database.TraceQuery(ctx, "ListCoupons", query)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list coupons: %w", err)
	}
	defer rows.Close()

	coupons := []domain.Coupon{}
	var totalCount int
	for rows.Next() {
		c, err := scanCoupon(rows, &totalCount)
		if err != nil {
			return nil, 0, fmt.Errorf("scan coupon row: %w", err)
		}
		coupons = append(coupons, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate coupon rows: %w", err)
	}
	return coupons, totalCount, nil
}

// Update modifies a coupon definition. current_uses is owned by the order
// flow and never written here.
func (r *CouponRepository) Update(ctx context.Context, c *domain.Coupon) (err error) {
	c.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE coupons
		SET code = $1, description = $2, discount_type = $3, discount_value = $4,
		    min_order_amount = $5, max_uses = $6, expires_at = $7, is_active = $8,
		    updated_at = $9
		WHERE id = $10`
	ctx, end := database.TraceQuery(ctx, "UpdateCoupon", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query,
		c.Code,
		c.Description,
		string(c.DiscountType),
		c.DiscountValue,
		c.MinOrderAmount,
		c.MaxUses,
		c.ExpiresAt,
		c.IsActive,
		c.UpdatedAt,
		c.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("coupon", "code", c.Code)
		}
		return fmt.Errorf("update coupon: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("coupon", c.ID)
	}
	return nil
}

func scanCoupon(row pgx.Row, extra ...any) (*domain.Coupon, error) {
	var (
		c            domain.Coupon
		discountType string
		minOrder     decimal.NullDecimal
	)
	dest := []any{
		&c.ID,
		&c.Code,
		&c.Description,
		&discountType,
		&c.DiscountValue,
		&minOrder,
		&c.MaxUses,
		&c.CurrentUses,
		&c.ExpiresAt,
		&c.IsActive,
		&c.CreatedAt,
		&c.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	c.DiscountType = domain.DiscountType(discountType)
	if minOrder.Valid {
		v := minOrder.Decimal
		c.MinOrderAmount = &v
	}
	return &c, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
