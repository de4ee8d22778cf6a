package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	appinv "github.com/erp/stockledger/internal/application/inventory"
	"github.com/erp/stockledger/internal/domain/inventory"
	"github.com/erp/stockledger/internal/domain/report"
	"github.com/erp/stockledger/internal/domain/shared"
	"go.uber.org/zap"
)

const jsonContentType = "application/json"

// RebuildRecord is what a rebuild leaves behind: the ledger's consistency
// before the replay and the replay's own counts.
type RebuildRecord struct {
	StartedAt time.Time                 `json:"started_at"`
	Before    *appinv.ConsistencyReport `json:"before,omitempty"`
	Summary   *inventory.RebuildSummary `json:"summary"`
}

// Archive writes rebuild records and period reports as JSON objects under a
// key prefix:
//
//	<prefix>rebuilds/20240301T120000Z.json
//	<prefix>reports/2024-02-01_2024-03-01.json
type Archive struct {
	store  ObjectStore
	prefix string
	clock  shared.Clock
	logger *zap.Logger
}

// NewArchive creates an Archive. A prefix without a trailing slash gets one.
func NewArchive(store ObjectStore, prefix string, clock shared.Clock, logger *zap.Logger) *Archive {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	if clock == nil {
		clock = shared.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archive{store: store, prefix: prefix, clock: clock, logger: logger}
}

// RebuildKey is the key of a rebuild record started at t
func (a *Archive) RebuildKey(t time.Time) string {
	return a.prefix + "rebuilds/" + t.UTC().Format("20060102T150405Z") + ".json"
}

// ReportKey is the key of the period report of [open, close)
func (a *Archive) ReportKey(open, close time.Time) string {
	return fmt.Sprintf("%sreports/%s_%s.json", a.prefix, formatBound(open), formatBound(close))
}

// formatBound uses the date alone for midnight bounds
func formatBound(t time.Time) string {
	t = t.UTC()
	if t.Equal(t.Truncate(24 * time.Hour)) {
		return t.Format("2006-01-02")
	}
	return t.Format("20060102T150405Z")
}

// SaveRebuild stores rec and returns its key
func (a *Archive) SaveRebuild(ctx context.Context, rec RebuildRecord) (string, error) {
	if rec.StartedAt.IsZero() {
		rec.StartedAt = a.clock.Now()
	}
	key := a.RebuildKey(rec.StartedAt)
	if err := a.putJSON(ctx, key, rec); err != nil {
		return "", err
	}
	a.logger.Info("Archived ledger rebuild", zap.String("key", key))
	return key, nil
}

// SaveReport stores r and returns its key. Archiving the same period again
// replaces the earlier object.
func (a *Archive) SaveReport(ctx context.Context, r *report.PeriodReport) (string, error) {
	key := a.ReportKey(r.Open, r.Close)
	if err := a.putJSON(ctx, key, r); err != nil {
		return "", err
	}
	a.logger.Info("Archived period report", zap.String("key", key))
	return key, nil
}

// Presigner hands out time-limited download links for stored objects
type Presigner interface {
	DownloadURL(ctx context.Context, key string) (string, time.Time, error)
}

// DownloadLink is a presigned URL for an archived object
type DownloadLink struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LoadReport reads back an archived period report. A period that was never
// archived is shared.ErrNotFound.
func (a *Archive) LoadReport(ctx context.Context, open, close time.Time) (*report.PeriodReport, error) {
	key := a.ReportKey(open, close)
	data, err := a.store.Get(ctx, key)
	if errors.Is(err, ErrObjectNotFound) {
		return nil, fmt.Errorf("%w: %w", shared.ErrNotFound.WithMessage("no archived report at %s", key), err)
	}
	if err != nil {
		return nil, err
	}
	var r report.PeriodReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode archived report: %w", err)
	}
	return &r, nil
}

// ReportLink presigns a download of the archived report of [open, close). It
// returns nil when the store cannot presign.
func (a *Archive) ReportLink(ctx context.Context, open, close time.Time) (*DownloadLink, error) {
	p, ok := a.store.(Presigner)
	if !ok {
		return nil, nil
	}
	url, expires, err := p.DownloadURL(ctx, a.ReportKey(open, close))
	if err != nil {
		return nil, err
	}
	return &DownloadLink{URL: url, ExpiresAt: expires}, nil
}

func (a *Archive) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := a.store.Put(ctx, key, data, jsonContentType); err != nil {
		return fmt.Errorf("archive %s: %w", key, err)
	}
	return nil
}
