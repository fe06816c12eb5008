package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock-monitor/internal/models"
)

const seedURL = "https://www.popmart.com/us/products/seed"

func testSeed() models.Product {
	return models.DefaultSeed(seedURL, "Seed", time.Minute, 3)
}

func TestRegistry_LoadSeedsEmptyStore(t *testing.T) {
	store := &memStore{}
	r := NewRegistry(store, testSeed(), testLogger(t))

	require.NoError(t, r.Load(context.Background()))

	products := r.Products()
	require.Len(t, products, 1)
	assert.Equal(t, models.SeedProductID, products[0].ID)
	require.Len(t, store.saved(), 1, "seed is persisted right away")
}

func TestRegistry_LoadSkipsInvalidProducts(t *testing.T) {
	valid, err := models.NewSingleVariantProduct("https://shop.example.com/a", "A", time.Minute, 3)
	require.NoError(t, err)
	invalid := models.Product{ID: "broken", URL: "https://shop.example.com/b", Interval: time.Minute, MaxRetries: 3}

	store := &memStore{products: []models.Product{*valid, invalid}}
	r := NewRegistry(store, testSeed(), testLogger(t))
	require.NoError(t, r.Load(context.Background()))

	products := r.Products()
	require.Len(t, products, 1)
	assert.Equal(t, valid.ID, products[0].ID)
}

func TestRegistry_WriteThrough(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	r := NewRegistry(store, testSeed(), testLogger(t))
	require.NoError(t, r.Load(ctx))

	p, err := models.NewSingleVariantProduct("https://shop.example.com/a", "A", time.Minute, 3)
	require.NoError(t, err)
	require.NoError(t, r.Add(ctx, *p))
	assert.Len(t, store.saved(), 2)

	name := "Renamed"
	require.NoError(t, r.UpdateSettings(ctx, p.ID, ProductSettings{Name: &name}))
	saved := store.saved()
	assert.Equal(t, "Renamed", saved[1].Name)

	added, err := r.AddVariant(ctx, p.ID, models.NewVariant(models.KindNamed, "Blue", "https://shop.example.com/a?color=blue"))
	require.NoError(t, err)
	assert.True(t, added)
	assert.Len(t, store.saved()[1].Variants, 2)

	require.NoError(t, r.Remove(ctx, p.ID))
	assert.Len(t, store.saved(), 1)
}

func TestRegistry_RejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil, testSeed(), testLogger(t))
	require.NoError(t, r.Load(ctx))

	p, err := models.NewSingleVariantProduct(seedURL, "Copy", time.Minute, 3)
	require.NoError(t, err)
	assert.ErrorIs(t, r.Add(ctx, *p), ErrDuplicateProduct)

	added, err := r.AddVariant(ctx, models.SeedProductID, models.NewVariant(models.KindNamed, "Again", seedURL+"#frag"))
	require.NoError(t, err)
	assert.False(t, added, "variant URL is compared after cleaning")
}

func TestRegistry_AddVariantStartsIdle(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil, testSeed(), testLogger(t))
	require.NoError(t, r.Load(ctx))

	v := models.NewVariant(models.KindLimited, "Limited", "https://www.popmart.com/us/products/seed-limited")
	v.IsMonitoring = true
	_, err := r.AddVariant(ctx, models.SeedProductID, v)
	require.NoError(t, err)

	p, ok := r.Product(models.SeedProductID)
	require.True(t, ok)
	assert.False(t, p.Variant(v.ID).IsMonitoring)
}

func TestRegistry_RemoveLastVariantRejected(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil, testSeed(), testLogger(t))
	require.NoError(t, r.Load(ctx))

	err := r.RemoveVariant(ctx, models.SeedProductID, models.SeedProductID+"-primary")
	assert.ErrorIs(t, err, models.ErrLastVariant)
}

func TestRegistry_UpdateSettingsValidates(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil, testSeed(), testLogger(t))
	require.NoError(t, r.Load(ctx))

	zero := 0
	assert.Error(t, r.UpdateSettings(ctx, models.SeedProductID, ProductSettings{MaxRetries: &zero}))
	assert.ErrorIs(t, r.UpdateSettings(ctx, "missing", ProductSettings{}), ErrProductNotFound)
}

func TestRegistry_PersistFailureSurfaces(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	r := NewRegistry(store, testSeed(), testLogger(t))
	require.NoError(t, r.Load(ctx))

	store.saveErr = errors.New("disk full")
	name := "x"
	err := r.UpdateSettings(ctx, models.SeedProductID, ProductSettings{Name: &name})
	assert.Error(t, err)

	p, _ := r.Product(models.SeedProductID)
	assert.Equal(t, "x", p.Name, "in-memory state stays authoritative")
}

func TestRegistry_ProductsAreCopies(t *testing.T) {
	r := NewRegistry(nil, testSeed(), testLogger(t))
	require.NoError(t, r.Load(context.Background()))

	products := r.Products()
	products[0].Variants[0].IsAvailable = true

	p, _ := r.Product(models.SeedProductID)
	assert.False(t, p.Variants[0].IsAvailable)
}
