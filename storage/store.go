package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"rentwatch/identity"
	"rentwatch/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// RecordStore persists the listing collection of each site across runs,
// together with run history. Writes are upserts: a record missing from a
// later batch is kept.
type RecordStore interface {
	KnownURLs(ctx context.Context, siteID string) (map[string]struct{}, error)
	LoadRecords(ctx context.Context, siteID string) ([]models.ListingRecord, error)
	GetRecord(ctx context.Context, siteID, url string) (*models.ListingRecord, error)
	LatestRecord(ctx context.Context, siteID string) (*models.ListingRecord, error)
	SaveBatch(ctx context.Context, siteID string, batch []models.ListingRecord) (BatchResult, error)

	CreateRun(ctx context.Context, run *models.PipelineRun) error
	FinishRun(ctx context.Context, run *models.PipelineRun) error
	Log(ctx context.Context, runID uuid.UUID, level models.LogLevel, message, siteID string) error
	SaveAttempts(ctx context.Context, attempts []models.ApplicationAttempt) error

	Close() error
}

// BatchResult counts what a SaveBatch call changed.
type BatchResult struct {
	Inserted  int
	Updated   int
	Unchanged int
}

// prepareBatch drops records without a URL and later duplicates of a URL.
func prepareBatch(siteID string, batch []models.ListingRecord) []models.ListingRecord {
	seen := make(map[string]struct{}, len(batch))
	out := make([]models.ListingRecord, 0, len(batch))
	for _, r := range batch {
		if r.URL == "" {
			continue
		}
		if _, ok := seen[r.URL]; ok {
			continue
		}
		seen[r.URL] = struct{}{}
		r.SiteID = siteID
		out = append(out, r)
	}
	return out
}

type opKind int

const (
	opInsert opKind = iota
	opUpdate
	opTouch
)

// batchOp is one write SaveBatch has to issue.
type batchOp struct {
	kind        opKind
	record      models.ListingRecord
	position    int64
	fingerprint string
	fields      []byte
}

// planBatch decides per record whether it is new, changed or unchanged.
// existing maps stored URLs to their fingerprints; new records are placed
// from position next onward in batch order.
func planBatch(siteID string, batch []models.ListingRecord, existing map[string]string, next int64) ([]batchOp, BatchResult, error) {
	var res BatchResult
	batch = prepareBatch(siteID, batch)
	ops := make([]batchOp, 0, len(batch))
	for _, r := range batch {
		op := batchOp{record: r, fingerprint: identity.Fingerprint(&r)}
		old, known := existing[r.URL]
		switch {
		case !known:
			op.kind = opInsert
			op.position = next
			next++
			res.Inserted++
		case old != op.fingerprint:
			op.kind = opUpdate
			res.Updated++
		default:
			op.kind = opTouch
			res.Unchanged++
		}
		if op.kind != opTouch {
			fields, err := json.Marshal(r.Fields)
			if err != nil {
				return nil, BatchResult{}, fmt.Errorf("encode fields of %s: %w", r.URL, err)
			}
			op.fields = fields
		}
		ops = append(ops, op)
	}
	return ops, res, nil
}
