package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	appinv "github.com/erp/stockledger/internal/application/inventory"
	"github.com/erp/stockledger/internal/domain/inventory"
	"github.com/erp/stockledger/internal/domain/report"
	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchive_Keys(t *testing.T) {
	a := NewArchive(NewMemoryObjectStorage(), "stockledger", nil, nil)

	at := time.Date(2024, 3, 1, 12, 30, 5, 0, time.UTC)
	assert.Equal(t, "stockledger/rebuilds/20240301T123005Z.json", a.RebuildKey(at))

	open := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	close := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "stockledger/reports/2024-02-01_2024-03-01.json", a.ReportKey(open, close))
	assert.Equal(t, "stockledger/reports/2024-02-01_20240301T123005Z.json", a.ReportKey(open, at))
}

func TestArchive_SaveRebuild(t *testing.T) {
	store := NewMemoryObjectStorage()
	clock := shared.NewFixedClock(time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC))
	a := NewArchive(store, "ledger/", clock, nil)

	key, err := a.SaveRebuild(context.Background(), RebuildRecord{
		Before: &appinv.ConsistencyReport{
			CheckedAt:       clock.Now(),
			ProductsChecked: 2,
			Orphans: []appinv.OrphanedBatch{{
				BatchID:   uuid.New(),
				Source:    inventory.NewDocumentRef(inventory.KindPurchaseLine, uuid.New()),
				Remaining: decimal.NewFromInt(3),
			}},
		},
		Summary: &inventory.RebuildSummary{DocumentsReplayed: 7, BatchesCreated: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, "ledger/rebuilds/20240301T080000Z.json", key)
	assert.Equal(t, "application/json", store.ContentType(key))

	data, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, float64(7), decoded["summary"].(map[string]any)["documents_replayed"])
	assert.Len(t, decoded["before"].(map[string]any)["orphans"], 1)
}

func TestArchive_ReportRoundTrip(t *testing.T) {
	a := NewArchive(NewMemoryObjectStorage(), "", nil, nil)
	ctx := context.Background()
	open := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	close := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	r := &report.PeriodReport{
		Open:       open,
		Close:      close,
		TotalSales: decimal.RequireFromString("150.25"),
		NetProfit:  decimal.RequireFromString("40"),
	}
	key, err := a.SaveReport(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, "reports/2024-02-01_2024-03-01.json", key)

	loaded, err := a.LoadReport(ctx, open, close)
	require.NoError(t, err)
	assert.True(t, loaded.TotalSales.Equal(r.TotalSales))
	assert.True(t, loaded.NetProfit.Equal(r.NetProfit))
	assert.True(t, loaded.Open.Equal(open))

	_, err = a.LoadReport(ctx, open, open.Add(time.Hour))
	assert.ErrorIs(t, err, ErrObjectNotFound)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

type presigningStore struct {
	*MemoryObjectStorage
	keys []string
}

func (s *presigningStore) DownloadURL(_ context.Context, key string) (string, time.Time, error) {
	s.keys = append(s.keys, key)
	return "https://archive.example/" + key + "?sig=x", time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), nil
}

func TestArchive_ReportLink(t *testing.T) {
	ctx := context.Background()
	open := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	close := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	link, err := NewArchive(NewMemoryObjectStorage(), "", nil, nil).ReportLink(ctx, open, close)
	require.NoError(t, err)
	assert.Nil(t, link, "the memory store does not presign")

	store := &presigningStore{MemoryObjectStorage: NewMemoryObjectStorage()}
	a := NewArchive(store, "ledger", nil, nil)
	link, err = a.ReportLink(ctx, open, close)
	require.NoError(t, err)
	require.NotNil(t, link)
	assert.Equal(t, []string{"ledger/reports/2024-02-01_2024-03-01.json"}, store.keys)
	assert.Equal(t, "https://archive.example/ledger/reports/2024-02-01_2024-03-01.json?sig=x", link.URL)
	assert.Equal(t, 2024, link.ExpiresAt.Year())
}
