//go:build db
// +build db

package inventory

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/ggmarket/ggmarket-backend/pkg/db/models"
	"github.com/ggmarket/ggmarket-backend/pkg/enums"
	pkgerrors "github.com/ggmarket/ggmarket-backend/pkg/errors"
)

func openContentionDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := os.Getenv("GGMARKET_DB_DSN")
	if dsn == "" {
		t.Skip("GGMARKET_DB_DSN is not set")
	}

	conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	return conn
}

// Two checkouts race for the last unit of a listing. The row lock lets exactly
// one reservation through; the loser sees out-of-stock, never a double-sell.
func TestReserveLastUnitUnderContention(t *testing.T) {
	db := openContentionDB(t)
	svc := newInventoryService(t, db)
	ctx := context.Background()

	buyer := &models.User{ID: uuid.New(), Email: fmt.Sprintf("gg_test_%s@example.com", uuid.NewString()), DisplayName: "buyer"}
	seller := &models.User{ID: uuid.New(), Email: fmt.Sprintf("gg_test_%s@example.com", uuid.NewString()), DisplayName: "seller"}
	for _, user := range []*models.User{buyer, seller} {
		require.NoError(t, db.Create(user).Error)
	}

	listing := &models.Listing{
		ID:             uuid.New(),
		SellerID:       seller.ID,
		Title:          "game key",
		Published:      true,
		UnitPriceCents: 1000,
		Currency:       "BRL",
		DeliveryType:   enums.DeliveryTypeAuto,
	}
	require.NoError(t, db.Create(listing).Error)

	order := &models.Order{
		ID:               uuid.New(),
		BuyerID:          buyer.ID,
		SellerID:         seller.ID,
		Status:           enums.OrderStatusAwaitingPayment,
		TotalAmountCents: 2000,
		Currency:         "BRL",
		ExpiresAt:        time.Now().Add(30 * time.Minute),
	}
	require.NoError(t, db.Create(order).Error)

	items := make([]models.OrderItem, 2)
	for i := range items {
		items[i] = models.OrderItem{
			ID:             uuid.New(),
			OrderID:        order.ID,
			ListingID:      listing.ID,
			SellerID:       seller.ID,
			Title:          listing.Title,
			UnitPriceCents: listing.UnitPriceCents,
			Quantity:       1,
			DeliveryType:   enums.DeliveryTypeAuto,
		}
	}
	require.NoError(t, db.Create(&items).Error)
	seedItems(t, db, listing.ID, "key-last")

	t.Cleanup(func() {
		db.Where("listing_id = ?", listing.ID).Delete(&models.InventoryItem{})
		db.Where("order_id = ?", order.ID).Delete(&models.OrderItem{})
		db.Delete(order)
		db.Delete(listing)
		db.Delete(buyer)
		db.Delete(seller)
	})

	start := make(chan struct{})
	errs := make([]error, len(items))
	var wg sync.WaitGroup
	for i := range items {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = db.Transaction(func(tx *gorm.DB) error {
				_, err := svc.Reserve(ctx, tx, listing.ID, items[i].ID)
				return err
			})
		}(i)
	}
	close(start)
	wg.Wait()

	winners, losers := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case pkgerrors.As(err).Code() == pkgerrors.CodeResourceExhausted:
			losers++
		default:
			t.Fatalf("unexpected reserve error: %v", err)
		}
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, 1, losers)

	count, err := svc.AvailableCount(ctx, listing.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)
}
