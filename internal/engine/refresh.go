package engine

import (
	"context"
	"sort"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/inferloop/dashengine/internal/events"
	"github.com/inferloop/dashengine/internal/interval"
	"github.com/inferloop/dashengine/internal/templating"
	"github.com/inferloop/dashengine/pkg/errors"
	"github.com/inferloop/dashengine/pkg/models"
)

// RefreshResult summarizes one refresh batch. Panels holds the data recorded
// by this batch; Discarded lists panels whose result arrived after a newer
// query for the same panel had started, or after the batch was cancelled.
type RefreshResult struct {
	UID        string                    `json:"uid"`
	Batch      uint64                    `json:"batch"`
	Panels     map[int]*models.PanelData `json:"panels"`
	Failed     []int                     `json:"failed,omitempty"`
	Discarded  []int                     `json:"discarded,omitempty"`
	Superseded bool                      `json:"superseded,omitempty"`
	Duration   time.Duration             `json:"duration"`
}

type panelJob struct {
	panelID int
	gen     uint64
	targets []models.Target
	tr      models.ResolvedTimeRange
	vars    []*models.Variable
	opts    models.QueryOptions
}

type panelOutcome struct {
	panelID  int
	data     *models.PanelData
	err      error
	recorded bool
}

// RefreshDashboard queries every panel of a dashboard ("" is the active one)
// concurrently. It returns once every query has settled. A failing panel
// keeps its previous frames and does not affect the others. Starting a new
// dashboard refresh cancels the one still running.
func (e *Engine) RefreshDashboard(ctx context.Context, uid string) (*RefreshResult, error) {
	return e.runBatch(ctx, uid, nil, true)
}

// refreshPanels queries only the given panels. It does not cancel a running
// dashboard refresh; per-panel generations keep the newest result.
func (e *Engine) refreshPanels(ctx context.Context, uid string, panelIDs []int) (*RefreshResult, error) {
	if len(panelIDs) == 0 {
		return &RefreshResult{UID: uid, Panels: map[int]*models.PanelData{}}, nil
	}
	return e.runBatch(ctx, uid, panelIDs, false)
}

// RefreshPanel queries a single panel with the current time range and
// variables. The query error, if any, is returned.
func (e *Engine) RefreshPanel(ctx context.Context, uid string, panelID int) (*models.PanelData, error) {
	e.mu.Lock()
	d, uid, err := e.dashboardLocked(uid)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if p, _ := d.Panel(panelID); p == nil {
		e.mu.Unlock()
		return nil, panelNotFound(uid, panelID)
	}
	e.batchSeq[uid]++
	batchID := e.batchSeq[uid]
	jobs := e.planLocked(d, uid, []int{panelID})
	e.mu.Unlock()

	out := e.executePanel(ctx, uid, batchID, jobs[0])
	if out.err != nil {
		return out.data, out.err
	}
	if !out.recorded {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return out.data, nil
}

func (e *Engine) runBatch(ctx context.Context, uid string, panelIDs []int, full bool) (*RefreshResult, error) {
	start := e.clock.Now()

	e.mu.Lock()
	d, uid, err := e.dashboardLocked(uid)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.batchSeq[uid]++
	batchID := e.batchSeq[uid]
	bctx, cancel := context.WithCancel(ctx)
	if full {
		if prev := e.inflight[uid]; prev != nil {
			prev.cancel()
		}
		e.inflight[uid] = &batch{id: batchID, cancel: cancel}
	}
	jobs := e.planLocked(d, uid, panelIDs)
	e.mu.Unlock()

	defer func() {
		cancel()
		if full {
			e.mu.Lock()
			if b := e.inflight[uid]; b != nil && b.id == batchID {
				delete(e.inflight, uid)
			}
			e.mu.Unlock()
		}
	}()

	bctx, span := e.tracer.Start(bctx, "engine.refresh",
		trace.WithAttributes(
			attribute.String("dashboard.uid", uid),
			attribute.Int64("refresh.batch", int64(batchID)),
			attribute.Int("refresh.panels", len(jobs)),
			attribute.Bool("refresh.full", full),
		))
	defer span.End()

	e.bus.Refresh.Publish(events.RefreshEvent{
		Kind: events.DashboardRefreshStarted, UID: uid, Batch: batchID, Panels: len(jobs), Time: e.now(),
	})

	outcomes := make([]panelOutcome, len(jobs))
	if err := e.fanOut(bctx, uid, batchID, jobs, outcomes); err != nil {
		span.SetStatus(codes.Error, err.Error())
		e.bus.Refresh.Publish(events.RefreshEvent{
			Kind: events.DashboardRefreshError, UID: uid, Batch: batchID, Error: err.Error(), Time: e.now(),
		})
		return nil, err
	}

	result := &RefreshResult{
		UID:      uid,
		Batch:    batchID,
		Panels:   make(map[int]*models.PanelData, len(outcomes)),
		Duration: e.clock.Since(start),
	}
	for _, out := range outcomes {
		if out.err != nil {
			result.Failed = append(result.Failed, out.panelID)
		}
		if out.recorded {
			result.Panels[out.panelID] = out.data
		} else {
			result.Discarded = append(result.Discarded, out.panelID)
		}
	}
	sort.Ints(result.Failed)
	sort.Ints(result.Discarded)

	fields := logrus.Fields{
		"dashboard_uid": uid,
		"batch":         batchID,
		"panels":        len(jobs),
		"failed":        len(result.Failed),
		"duration":      result.Duration.String(),
	}

	if bctx.Err() != nil {
		callerErr := ctx.Err()
		result.Superseded = callerErr == nil
		reason := "refresh superseded by a newer refresh"
		if callerErr != nil {
			reason = callerErr.Error()
		}
		span.SetStatus(codes.Error, reason)
		e.metrics.RecordRefreshBatch("cancelled", result.Duration)
		e.logger.WithFields(fields).Debug("Dashboard refresh ended early: " + reason)
		e.bus.Refresh.Publish(events.RefreshEvent{
			Kind: events.DashboardRefreshError, UID: uid, Batch: batchID, Panels: len(jobs),
			Failed: len(result.Failed), Error: reason, Duration: result.Duration, Time: e.now(),
		})
		return result, callerErr
	}

	status := "success"
	if len(result.Failed) > 0 {
		status = "partial"
	}
	e.metrics.RecordRefreshBatch(status, result.Duration)
	e.logger.WithFields(fields).Debug("Dashboard refresh completed")
	e.bus.Refresh.Publish(events.RefreshEvent{
		Kind: events.DashboardRefreshCompleted, UID: uid, Batch: batchID, Panels: len(jobs),
		Failed: len(result.Failed), Duration: result.Duration, Time: e.now(),
	})
	return result, nil
}

// fanOut runs jobs on the worker pool and waits for all of them.
func (e *Engine) fanOut(ctx context.Context, uid string, batchID uint64, jobs []panelJob, outcomes []panelOutcome) error {
	e.poolMu.RLock()
	if e.poolClosed {
		e.poolMu.RUnlock()
		return errors.ErrEngineClosed
	}
	group := e.pool.Group()
	for i, job := range jobs {
		i, job := i, job
		group.Submit(func() {
			outcomes[i] = e.executePanel(ctx, uid, batchID, job)
		})
	}
	e.poolMu.RUnlock()

	group.Wait()
	return nil
}

// planLocked builds one job per panel, or per listed panel when panelIDs is
// not nil. Targets are interpolated against a snapshot of the variables and
// each panel's generation is bumped. Callers hold e.mu.
func (e *Engine) planLocked(d *models.Dashboard, uid string, panelIDs []int) []panelJob {
	tr, ok := interval.ResolveOrDefault(d.Time, e.now())
	if !ok {
		e.logger.WithFields(logrus.Fields{
			"dashboard_uid": uid,
			"from":          d.Time.From,
			"to":            d.Time.To,
		}).Warn("Invalid time range, using default")
	}

	vars := make([]*models.Variable, 0, len(d.Templating.List))
	for _, v := range d.Templating.List {
		if v != nil {
			vars = append(vars, v.Clone())
		}
	}

	gens := e.panelGen[uid]
	if gens == nil {
		gens = make(map[int]uint64)
		e.panelGen[uid] = gens
	}

	jobs := make([]panelJob, 0, len(d.Panels))
	for _, p := range d.Panels {
		if p == nil || (panelIDs != nil && !lo.Contains(panelIDs, p.ID)) {
			continue
		}

		maxDataPoints := p.MaxDataPoints
		if maxDataPoints <= 0 {
			maxDataPoints = e.config.MaxDataPoints
		}
		minInterval := templating.InterpolateString(p.Interval, templating.NewScope(vars))
		step := interval.Calculate(tr.Duration(), maxDataPoints, minInterval)
		scope := templating.NewScope(vars).WithDashboard(d).WithTimeRange(tr, step)

		visible := lo.Filter(p.Targets, func(t models.Target, _ int) bool { return !t.Hidden() })
		targets := templating.InterpolateTargets(visible, scope)
		if p.Datasource != nil {
			inherited := map[string]interface{}{
				"type": p.Datasource.Type,
				"uid":  templating.InterpolateString(p.Datasource.UID, scope),
			}
			for _, t := range targets {
				if t.Datasource() == nil {
					t["datasource"] = inherited
				}
			}
		}

		gens[p.ID]++
		jobs = append(jobs, panelJob{
			panelID: p.ID,
			gen:     gens[p.ID],
			targets: targets,
			tr:      tr,
			vars:    vars,
			opts: models.QueryOptions{
				DashboardUID:  uid,
				PanelID:       p.ID,
				MaxDataPoints: maxDataPoints,
				Interval:      step,
			},
		})
	}
	return jobs
}

// executePanel runs one panel query and records its outcome.
func (e *Engine) executePanel(ctx context.Context, uid string, batchID uint64, job panelJob) panelOutcome {
	e.bus.Refresh.Publish(events.RefreshEvent{
		Kind: events.PanelRefreshStarted, UID: uid, PanelID: job.panelID, Batch: batchID, Time: e.now(),
	})

	qctx, cancel := context.WithTimeout(ctx, e.config.QueryTimeout)
	defer cancel()
	qctx, span := e.tracer.Start(qctx, "engine.panelQuery",
		trace.WithAttributes(
			attribute.String("dashboard.uid", uid),
			attribute.Int("panel.id", job.panelID),
			attribute.Int("panel.targets", len(job.targets)),
		))
	defer span.End()

	start := e.clock.Now()
	frames, err := e.executor.ExecuteQueries(qctx, job.targets, job.tr, job.vars, job.opts)
	elapsed := e.clock.Since(start)
	if err != nil {
		err = errors.WrapQueryError(err, job.panelID)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	e.metrics.RecordPanelQuery(queryStatus(err), elapsed)

	out := panelOutcome{panelID: job.panelID, err: err}
	if ctx.Err() == nil {
		out.data, out.recorded = e.recordPanelResult(uid, job, batchID, frames, err, elapsed)
	}
	if !out.recorded {
		e.metrics.RecordPanelQuery("discarded", 0)
		e.logger.WithFields(logrus.Fields{
			"dashboard_uid": uid,
			"panel_id":      job.panelID,
			"batch":         batchID,
		}).Debug("Discarding outdated panel result")
		return out
	}

	ev := events.RefreshEvent{
		Kind: events.PanelRefreshCompleted, UID: uid, PanelID: job.panelID, Batch: batchID,
		Data: out.data, Duration: elapsed, Time: e.now(),
	}
	if err != nil {
		ev.Kind = events.PanelRefreshError
		ev.Error = err.Error()
		e.logger.WithFields(logrus.Fields{
			"dashboard_uid": uid,
			"panel_id":      job.panelID,
		}).WithError(err).Warn("Panel query failed")
	}
	e.bus.Refresh.Publish(ev)
	return out
}

// recordPanelResult stores a query outcome unless the dashboard or panel is
// gone or a newer query for the panel has started. On failure the previous
// frames are kept.
func (e *Engine) recordPanelResult(uid string, job panelJob, batchID uint64, frames []*models.DataFrame, queryErr error, elapsed time.Duration) (*models.PanelData, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.dashboards[uid]; !ok {
		return nil, false
	}
	if e.panelGen[uid][job.panelID] != job.gen {
		return nil, false
	}

	pd := &models.PanelData{
		PanelID:   job.panelID,
		Frames:    frames,
		Batch:     batchID,
		UpdatedAt: e.now(),
		Duration:  elapsed,
	}
	if queryErr != nil {
		pd.Error = queryErr.Error()
		pd.Frames = nil
		if prev := e.data[uid][job.panelID]; prev != nil {
			pd.Frames = prev.Frames
		}
	}
	if pd.Frames == nil {
		pd.Frames = []*models.DataFrame{}
	}
	if e.data[uid] == nil {
		e.data[uid] = make(map[int]*models.PanelData)
	}
	e.data[uid][job.panelID] = pd

	cp := *pd
	return &cp, true
}

func queryStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.IsTimeout(err):
		return "timeout"
	default:
		return "error"
	}
}
