package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/pkg/database"
)

// UserCollectionRepository implements repository.UserCollectionRepository
// using PostgreSQL.
type UserCollectionRepository struct {
	db database.DBTX
}

// NewUserCollectionRepository creates a PostgreSQL-backed collection
// repository.
func NewUserCollectionRepository(db database.DBTX) *UserCollectionRepository {
	return &UserCollectionRepository{db: db}
}

const mergeWishlistQuery = `
		INSERT INTO user_wishlist_items (user_id, product_id)
		SELECT $1, p FROM unnest($2::text[]) AS p
		ON CONFLICT (user_id, product_id) DO NOTHING`

const mergeCartQuery = `
		INSERT INTO user_cart_items (user_id, product_id, variant_id, quantity, created_at)
		SELECT $1, p, v, q, a
		FROM unnest($2::text[], $3::text[], $4::int[], $5::timestamptz[]) AS t(p, v, q, a)
		ON CONFLICT (user_id, product_id, variant_id) DO NOTHING`

// MergeGuestItems inserts both collections in one transaction. Conflicting
// rows keep the user's existing values.
func (r *UserCollectionRepository) MergeGuestItems(ctx context.Context, userID string, wishlist []string, cart []domain.GuestCartItem) (wAdded, cAdded int, err error) {
	ctx, end := database.TraceQuery(ctx, "MergeGuestItems", mergeWishlistQuery+";"+mergeCartQuery)
	defer func() { end(err) }()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("begin merge tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if len(wishlist) > 0 {
		ct, err := tx.Exec(ctx, mergeWishlistQuery, userID, wishlist)
		if err != nil {
			return 0, 0, fmt.Errorf("merge wishlist: %w", err)
		}
		wAdded = int(ct.RowsAffected())
	}

	if len(cart) > 0 {
		products := make([]string, len(cart))
		variants := make([]string, len(cart))
		quantities := make([]int32, len(cart))
		addedAt := make([]time.Time, len(cart))
		for i, it := range cart {
			products[i] = it.ProductID
			variants[i] = it.VariantID
			quantities[i] = int32(it.Quantity)
			addedAt[i] = it.AddedAt
		}
		ct, err := tx.Exec(ctx, mergeCartQuery, userID, products, variants, quantities, addedAt)
		if err != nil {
			return 0, 0, fmt.Errorf("merge cart items: %w", err)
		}
		cAdded = int(ct.RowsAffected())
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("commit merge tx: %w", err)
	}
	return wAdded, cAdded, nil
}
