package analysis

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
	errMsg     = "failed to perform analysis transaction"
)

type analysisStore struct {
	db              core.DB
	flakeScoreStore core.FlakeScoreStore
	quarantineStore core.QuarantineStore
	logger          lumber.Logger
}

// New returns a new AnalysisStore
func New(db core.DB,
	flakeScoreStore core.FlakeScoreStore,
	quarantineStore core.QuarantineStore,
	logger lumber.Logger,
) core.AnalysisStore {
	return &analysisStore{
		db:              db,
		flakeScoreStore: flakeScoreStore,
		quarantineStore: quarantineStore,
		logger:          logger,
	}
}

func (a *analysisStore) Persist(ctx context.Context, orgID string, scores []*core.FlakeScore,
	plan *core.QuarantinePlan) (*core.QuarantineOutcome, error) {
	var outcome *core.QuarantineOutcome
	err := a.db.ExecuteTransactionWithRetry(ctx, maxRetries, delay, maxJitter, errMsg,
		func(tx *sqlx.Tx) error {
			outcome = &core.QuarantineOutcome{}
			if len(scores) > 0 {
				if err := a.flakeScoreStore.UpsertInTx(ctx, tx, scores); err != nil {
					a.logger.Errorf("failed to upsert flake scores for org %s, error %v", orgID, err)
					return err
				}
			}
			if plan == nil || (len(plan.Create) == 0 && len(plan.Revert) == 0) {
				return nil
			}
			active, err := a.quarantineStore.FindActiveInTx(ctx, tx, orgID, plan.TestCaseIDs())
			if err != nil {
				return err
			}
			create := make([]*core.QuarantineDecision, 0, len(plan.Create))
			for _, d := range plan.Create {
				if _, ok := active[d.TestCaseID]; ok {
					continue
				}
				create = append(create, d)
				active[d.TestCaseID] = d
			}
			if err := a.quarantineStore.CreateInTx(ctx, tx, create); err != nil {
				a.logger.Errorf("failed to create quarantine decisions for org %s, error %v", orgID, err)
				return err
			}
			outcome.Created = create
			for testCaseID, rationale := range plan.Revert {
				d, ok := active[testCaseID]
				if !ok {
					continue
				}
				if err := a.quarantineStore.TransitionInTx(ctx, tx, orgID, d.ID, core.QuarantineReverted,
					rationale, core.ActorPolicyEngine); err != nil {
					return err
				}
				outcome.Reverted = append(outcome.Reverted, testCaseID)
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}
