package triage

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/pipeline-intel/internal/explain"
	"github.com/sells-group/pipeline-intel/internal/features"
	"github.com/sells-group/pipeline-intel/internal/model"
	"github.com/sells-group/pipeline-intel/internal/telemetry"
)

// PredictOptions selects the optional parts of a prediction response.
type PredictOptions struct {
	IncludeBlockers bool   `json:"include_blockers"`
	IncludeNBA      bool   `json:"include_nba"`
	OwnerID         string `json:"owner_id,omitempty"`
}

// Prediction is a scored entity with its explanation and, on request, its
// blockers and next best actions.
type Prediction struct {
	model.ProgressionPrediction
	Explanation     string             `json:"explanation"`
	Blockers        []model.Blocker    `json:"blockers,omitempty"`
	NextBestActions []model.TriageItem `json:"next_best_actions,omitempty"`
}

// BatchItem is one entry of a batch prediction. Exactly one of Prediction
// and Error is set.
type BatchItem struct {
	EntityID   string      `json:"entity_id"`
	Prediction *Prediction `json:"prediction,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// BatchPrediction reports every requested id in request order.
type BatchPrediction struct {
	Items     []BatchItem `json:"items"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
}

// Predict scores one entity.
func (e *Engine) Predict(ctx context.Context, entityID string, opts PredictOptions) (p *Prediction, err error) {
	tm := telemetry.Start(e.sink, "score")
	defer func() { tm.Done(ctx, telemetry.OutcomeOf(err), entityID) }()

	fv, err := e.extractor.Extract(ctx, entityID)
	if err != nil {
		return nil, err
	}
	return e.prediction(ctx, fv, opts), nil
}

// PredictBatch scores many entities. A missing entity or failed chunk is
// reported on its items and never fails the batch.
func (e *Engine) PredictBatch(ctx context.Context, ids []string, opts PredictOptions) (*BatchPrediction, error) {
	tm := telemetry.Start(e.sink, "score_batch")

	ids = dedupeIDs(ids)
	if len(ids) == 0 {
		return nil, model.InvalidInputf("triage: no entity ids")
	}
	if len(ids) > e.cfg.MaxCandidates {
		return nil, model.InvalidInputf("triage: %d ids exceeds %d", len(ids), e.cfg.MaxCandidates)
	}

	var mu sync.Mutex
	preds := make(map[string]*Prediction, len(ids))
	errs := make(map[string]string)

	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for _, chunk := range chunks(ids, e.cfg.ChunkSize) {
		g.Go(func() error {
			batch, err := e.extractor.ExtractBatch(ctx, chunk)
			if err != nil {
				mu.Lock()
				for _, id := range chunk {
					errs[id] = err.Error()
				}
				mu.Unlock()
				return nil
			}
			for _, id := range chunk {
				fv, ok := batch.Vectors[id]
				var p *Prediction
				if ok {
					p = e.prediction(ctx, fv, opts)
				}
				mu.Lock()
				if ok {
					preds[id] = p
				} else if ferr := batch.Errors[id]; ferr != nil {
					errs[id] = ferr.Error()
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	out := &BatchPrediction{Items: make([]BatchItem, 0, len(ids))}
	for _, id := range ids {
		item := BatchItem{EntityID: id}
		if p, ok := preds[id]; ok {
			item.Prediction = p
			out.Succeeded++
		} else {
			item.Error = errs[id]
			if item.Error == "" {
				item.Error = "not scored"
			}
			out.Failed++
		}
		out.Items = append(out.Items, item)
	}

	outcome := telemetry.OutcomeOK
	if out.Failed > 0 {
		outcome = telemetry.OutcomePartial
	}
	tm.Done(ctx, outcome, ids...)

	zap.L().Info("triage: batch prediction complete",
		zap.String("component", "triage"),
		zap.Int("succeeded", out.Succeeded),
		zap.Int("failed", out.Failed),
	)
	return out, nil
}

func (e *Engine) prediction(ctx context.Context, fv model.FeatureVector, opts PredictOptions) *Prediction {
	a := e.assess(fv)
	p := &Prediction{
		ProgressionPrediction: *a.pred,
		Explanation:           explain.Explain(a.pred),
	}
	if opts.IncludeBlockers {
		p.Blockers = a.blockers
	}
	if opts.IncludeNBA {
		p.NextBestActions = e.nextBestActions(ctx, a, opts.OwnerID)
	}
	return p
}

// nextBestActions drafts every applicable action for a non-terminal entity,
// best first. Drafting failures drop that action only.
func (e *Engine) nextBestActions(ctx context.Context, a assessment, ownerID string) []model.TriageItem {
	if stage, ok := a.fv.Enum(features.KeyStage); ok && model.Stage(stage).Terminal() {
		return nil
	}
	out := make([]model.TriageItem, 0, len(a.actions))
	for _, action := range a.actions {
		it := e.item(a, action)
		if err := e.draft(ctx, a, &it); err != nil {
			zap.L().Warn("triage: next best action draft failed",
				zap.String("component", "triage"),
				zap.String("entity_id", it.EntityID),
				zap.String("owner", ownerID),
				zap.Error(err),
			)
			continue
		}
		out = append(out, it)
	}
	return out
}
