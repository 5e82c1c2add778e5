package merchant_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
	"github.com/joseph-ayodele/receipts-pipeline/internal/repository"
	"github.com/joseph-ayodele/receipts-pipeline/internal/repository/repotest"
	"github.com/joseph-ayodele/receipts-pipeline/internal/services/merchant"
)

func TestUpsert(t *testing.T) {
	ctx := context.Background()
	drv := repotest.NewDriver(t)
	purchases := repository.NewPurchaseRepository(drv, repotest.Logger())
	svc := merchant.NewService(repository.NewMerchantRepository(drv, repotest.Logger()), purchases, repotest.Logger())

	ident := "30-71234567-1"
	p, err := purchases.Create(ctx, &entity.Purchase{ReadEntityIdentification: &ident, Date: time.Now(), Total: 1})
	require.NoError(t, err)

	m, err := svc.Upsert(ctx, entity.MerchantCreate{Name: " Super ", Identification: ident})
	require.NoError(t, err)
	assert.Equal(t, "Super", m.Name)
	assert.Equal(t, "30712345671", m.Identification)

	got, err := purchases.GetByID(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got.MerchantID)
	assert.Equal(t, m.ID, *got.MerchantID)

	again, err := svc.Upsert(ctx, entity.MerchantCreate{Name: "Super SA", Identification: "30712345671"})
	require.NoError(t, err)
	assert.Equal(t, m.ID, again.ID)
	assert.Equal(t, "Super SA", again.Name)
}

func TestUpsertInvalid(t *testing.T) {
	drv := repotest.NewDriver(t)
	svc := merchant.NewService(repository.NewMerchantRepository(drv, repotest.Logger()),
		repository.NewPurchaseRepository(drv, repotest.Logger()), repotest.Logger())

	for _, req := range []entity.MerchantCreate{
		{Name: "", Identification: "1"},
		{Name: "Super", Identification: ""},
		{Name: "Super", Identification: "n/a"},
	} {
		_, err := svc.Upsert(context.Background(), req)
		assert.ErrorIs(t, err, common.ErrInvalidInput)
	}
}
