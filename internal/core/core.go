// Package core wires C1-C10 behind the seven public operations spec.md
// §6 exposes: AnswerQuery, Reprocess, GetOperation, CancelOperation,
// VerifyIntegrity, the snapshot trio (CreateSnapshot/Rollback/
// ListSnapshots), and RecommendThresholds. It owns no domain logic of
// its own — every operation delegates to the component that implements
// it and only adapts inputs/outputs at the boundary.
package core

import (
	"context"
	"fmt"

	"ragcore/internal/logging"
	"ragcore/internal/orchestrator"
	"ragcore/internal/query"
	"ragcore/internal/queue"
	"ragcore/internal/reprocess"
	"ragcore/internal/snapshot"
	"ragcore/internal/threshold"
	"ragcore/internal/types"
)

// Core is the facade a transport layer (cmd/server or any other caller)
// drives. Construct one with New once all ten components have been
// wired by the caller.
type Core struct {
	orchestrator *orchestrator.Orchestrator
	snapshots    *snapshot.Manager
	pipeline     *reprocess.Pipeline
	queue        *queue.Manager
	thresholds   *threshold.Manager
	log          logging.Logger
}

// New assembles a Core from its already-constructed components. Each
// component is independently unit-tested; Core's own tests exercise only
// the adaptation at this boundary.
func New(orch *orchestrator.Orchestrator, snapshots *snapshot.Manager, pipeline *reprocess.Pipeline, q *queue.Manager, thresholds *threshold.Manager, log logging.Logger) *Core {
	if log == nil {
		log = logging.NewNoOpLogger()
	}
	return &Core{orchestrator: orch, snapshots: snapshots, pipeline: pipeline, queue: q, thresholds: thresholds, log: log}
}

// AnswerQuery is C6's public entry point (§6).
func (c *Core) AnswerQuery(ctx context.Context, req orchestrator.Request) (*types.HybridResponse, error) {
	return c.orchestrator.AnswerQuery(ctx, req)
}

// ReprocessRequest is the input to Reprocess (§6).
type ReprocessRequest struct {
	BotID    types.ID
	CallerID types.ID
	Priority types.Priority
	Options  types.ReprocessOptions
}

// Reprocess enqueues a reprocessing operation and returns its operation
// id immediately; progress is visible through GetOperation as soon as
// the queue dispatches it (§4.9's "initialized synchronously" contract
// is satisfied by the queue's immediate admission, not by running the
// pipeline inline).
func (c *Core) Reprocess(req ReprocessRequest) (types.ID, error) {
	if req.Options.BatchSize <= 0 {
		req.Options.BatchSize = 10
	}
	return c.queue.Enqueue(req.BotID, req.CallerID, req.Priority, req.Options)
}

// OperationView is GetOperation's response shape: whichever of queued,
// running, or completed state currently applies.
type OperationView struct {
	OperationID types.ID
	Status      types.OperationStatus
	Running     *types.RunningOperation
	Report      *types.CompletedReport
}

// GetOperation reports an operation's current status, progress, and
// (once terminal) its completed report (§6).
func (c *Core) GetOperation(operationID types.ID) (*OperationView, error) {
	if report, ok := c.queue.CompletedReport(operationID); ok {
		status := types.OperationCompleted
		if report.Failed > 0 && report.Successful == 0 {
			status = types.OperationFailed
		}
		if report.Cancelled > 0 {
			status = types.OperationCancelled
		}
		return &OperationView{OperationID: operationID, Status: status, Report: report}, nil
	}
	if running, ok := c.pipeline.Status(operationID); ok {
		return &OperationView{OperationID: operationID, Status: types.OperationRunning, Running: running}, nil
	}
	return nil, fmt.Errorf("core: operation %s not found", operationID.String())
}

// CancelOperation cancels a queued or running reprocessing operation
// (§6). Returns nil on success, or an error if the operation is unknown.
func (c *Core) CancelOperation(operationID types.ID) error {
	return c.queue.CancelOperation(operationID)
}

// IntegrityResult is VerifyIntegrity's response shape (§6).
type IntegrityResult struct {
	Passed  bool
	Results map[string][]snapshot.Issue
}

// VerifyIntegrity runs C8's integrity checks over botID, restricted to
// checkSet if non-empty (§6).
func (c *Core) VerifyIntegrity(ctx context.Context, botID types.ID, checkSet []string) (*IntegrityResult, error) {
	if len(checkSet) == 0 {
		checkSet = snapshot.AllChecks
	}
	report, err := c.snapshots.VerifyIntegrity(ctx, botID, checkSet)
	if err != nil {
		return nil, err
	}
	return &IntegrityResult{Passed: report.Passed, Results: report.Results}, nil
}

// CreateSnapshot creates a C8 snapshot for botID, generating a fresh
// snapshot id if snapshotID is nil (§6).
func (c *Core) CreateSnapshot(ctx context.Context, botID, snapshotID types.ID) (*types.Snapshot, error) {
	return c.snapshots.CreateSnapshot(ctx, botID, snapshotID)
}

// Rollback restores botID's corpus to snapshotID via C8 (§6).
func (c *Core) Rollback(ctx context.Context, botID, snapshotID types.ID) (*snapshot.RollbackReport, error) {
	return c.snapshots.Rollback(ctx, botID, snapshotID)
}

// ListSnapshots lists every retained snapshot for botID (§6).
func (c *Core) ListSnapshots(botID types.ID) ([]*types.Snapshot, error) {
	return c.snapshots.ListSnapshots(botID)
}

// RecommendThresholds mines botID's performance log over the last days
// (defaulting to the manager's configured lookback when days <= 0) and
// returns C2's threshold recommendations for provider (§6).
func (c *Core) RecommendThresholds(ctx context.Context, botID types.ID, provider string, days int) ([]threshold.Recommendation, error) {
	return c.thresholds.RecommendWindow(ctx, botID, provider, days)
}

// StartQueue launches the reprocessing queue's scheduler loop; callers
// should invoke this once during startup, after New.
func (c *Core) StartQueue(ctx context.Context) {
	c.queue.Start(ctx)
}

// Shutdown gracefully stops the reprocessing queue, cancelling any
// running operations and waiting for the scheduler loop to exit.
func (c *Core) Shutdown(ctx context.Context) error {
	return c.queue.Shutdown(ctx)
}

// UserProfile re-exports query.UserProfile so callers building an
// AnswerQuery request don't need to import internal/query directly.
type UserProfile = query.UserProfile
