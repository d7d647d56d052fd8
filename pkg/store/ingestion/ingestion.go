package ingestion

import (
	"context"
	"time"

	"github.com/LambdaTest/flakewatch/pkg/core"
	"github.com/LambdaTest/flakewatch/pkg/lumber"
	"github.com/jmoiron/sqlx"
)

const (
	maxRetries = 3
	delay      = 200 * time.Millisecond
	maxJitter  = 100 * time.Millisecond
	errMsg     = "failed to perform ingestion transaction"
)

// ingestionStore writes test identities and occurrences in a transaction
type ingestionStore struct {
	db              core.DB
	testCaseStore   core.TestCaseStore
	occurrenceStore core.OccurrenceStore
	logger          lumber.Logger
}

// New returns a new IngestionStore
func New(db core.DB,
	testCaseStore core.TestCaseStore,
	occurrenceStore core.OccurrenceStore,
	logger lumber.Logger,
) core.IngestionStore {
	return &ingestionStore{
		db:              db,
		testCaseStore:   testCaseStore,
		occurrenceStore: occurrenceStore,
		logger:          logger,
	}
}

func (i *ingestionStore) Write(ctx context.Context, orgID string,
	testCases []*core.TestCase,
	occurrences []*core.Occurrence,
) (int64, error) {
	var inserted int64
	err := i.db.ExecuteTransactionWithRetry(ctx, maxRetries, delay, maxJitter, errMsg,
		func(tx *sqlx.Tx) error {
			inserted = 0
			if len(testCases) > 0 {
				if err := i.testCaseStore.UpsertInTx(ctx, tx, orgID, testCases); err != nil {
					i.logger.Errorf("failed to upsert test cases for org %s, error %v", orgID, err)
					return err
				}
			}
			if len(occurrences) > 0 {
				n, err := i.occurrenceStore.CreateInTx(ctx, tx, orgID, occurrences)
				if err != nil {
					i.logger.Errorf("failed to insert occurrences for org %s, error %v", orgID, err)
					return err
				}
				inserted = n
				if skipped := int64(len(occurrences)) - n; skipped > 0 {
					i.logger.Warnf("%d occurrences already recorded for org %s were ignored", skipped, orgID)
				}
			}
			return nil
		})
	return inserted, err
}
