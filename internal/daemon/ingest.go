package daemon

import (
	"context"
	"fmt"
	"log"

	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/schema"
	"github.com/joseph-g-njoki/poultry360-mobile-sub001/internal/store"
)

// IngestResult summarizes one drop file ingest.
type IngestResult struct {
	Farms   int
	Batches int
	Records int
	Skipped int
}

// Total returns the number of rows written.
func (r IngestResult) Total() int {
	return r.Farms + r.Batches + r.Records
}

// IngestDropFile reads the drop file at path and writes its entities
// through the store, marking them for upload on the next sync. Rows are
// written farms first so later rows can reference their parents. A row
// that fails to insert is logged and skipped; only an unreadable file,
// an organization mismatch, or a dead store aborts the ingest.
func IngestDropFile(ctx context.Context, st *store.Store, path string, logger *log.Logger) (*IngestResult, error) {
	drop, err := schema.ReadDropFile(path)
	if err != nil {
		return nil, err
	}

	org, ok := st.OrganizationID()
	if !ok {
		return nil, fmt.Errorf("no organization configured")
	}
	if drop.OrganizationID != org {
		return nil, fmt.Errorf("drop file belongs to organization %d, device is organization %d", drop.OrganizationID, org)
	}

	result := &IngestResult{}

	for i := range drop.Farms {
		farm := drop.Farms[i]
		farm.OrganizationID = org
		if err := st.CreateFarmContext(ctx, &farm); err != nil {
			logger.Printf("Warning: skipping farm %q: %v", farm.Name, err)
			result.Skipped++
			continue
		}
		result.Farms++
	}

	for i := range drop.Batches {
		batch := drop.Batches[i]
		batch.OrganizationID = org
		if err := st.CreateBatchContext(ctx, &batch); err != nil {
			logger.Printf("Warning: skipping batch %q: %v", batch.Name, err)
			result.Skipped++
			continue
		}
		result.Batches++
	}

	for i := range drop.ProductionRecords {
		rec := drop.ProductionRecords[i]
		rec.OrganizationID = org
		if err := st.CreateProductionRecordContext(ctx, &rec); err != nil {
			logger.Printf("Warning: skipping production record for batch %s: %v", rec.BatchID, err)
			result.Skipped++
			continue
		}
		result.Records++
	}

	return result, nil
}
