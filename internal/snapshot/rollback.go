package snapshot

import (
	"context"
	"fmt"
	"time"

	"ragcore/internal/types"
)

// RiskLevel is the overall risk rating of a rollback plan.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// PlanStep is one step of a rollback plan.
type PlanStep struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// RollbackPlan enumerates the steps a rollback will perform and their
// aggregate risk.
type RollbackPlan struct {
	SnapshotID types.ID   `json:"snapshot_id"`
	BotID      types.ID   `json:"bot_id"`
	Steps      []PlanStep `json:"steps"`
	Risk       RiskLevel  `json:"risk"`
}

// RollbackReport is the outcome of executing a RollbackPlan.
type RollbackReport struct {
	SnapshotID          types.ID         `json:"snapshot_id"`
	BotID               types.ID         `json:"bot_id"`
	PreRollbackSnapshot types.ID         `json:"pre_rollback_snapshot"`
	StepsCompleted      []string         `json:"steps_completed"`
	RecoveryPerformed   bool             `json:"recovery_performed"`
	Verification        *IntegrityReport `json:"verification"`
	StartedAt           time.Time        `json:"started_at"`
	EndedAt             time.Time        `json:"ended_at"`
}

const stepDropCollection = "drop_collection"
const stepDeleteChunks = "delete_chunks"
const stepResetChunkCounts = "reset_chunk_counts"
const stepRestoreMetadata = "restore_collection_metadata"
const stepVerify = "verify"
const stepPreRollbackBackup = "pre_rollback_backup"

// PlanRollback enumerates the steps a rollback to snapshotID will take
// (spec §4.8) without executing any of them.
func (m *Manager) PlanRollback(botID, snapshotID types.ID) *RollbackPlan {
	steps := []PlanStep{
		{Name: stepPreRollbackBackup, Description: "create a pre-rollback backup snapshot"},
		{Name: stepDropCollection, Description: "drop the current vector collection"},
		{Name: stepDeleteChunks, Description: "delete current chunks"},
		{Name: "reset_chunk_count", Description: "reset doc.chunk_count to 0"},
		{Name: stepRestoreMetadata, Description: "restore collection metadata from snapshot"},
		{Name: stepVerify, Description: "verify post-rollback integrity"},
	}

	risk := RiskMedium
	for _, s := range steps {
		if s.Name == stepDeleteChunks {
			risk = RiskHigh
			break
		}
	}

	return &RollbackPlan{SnapshotID: snapshotID, BotID: botID, Steps: steps, Risk: risk}
}

// Rollback executes a rollback plan to snapshotID for botID. At most one
// rollback runs per process at a time (invariant I6); a caller attempting
// to start a second one blocks until the first completes.
func (m *Manager) Rollback(ctx context.Context, botID, snapshotID types.ID) (*RollbackReport, error) {
	m.rollbackMu.Lock()
	defer m.rollbackMu.Unlock()

	report := &RollbackReport{SnapshotID: snapshotID, BotID: botID, StartedAt: time.Now()}

	snap, err := m.GetSnapshot(snapshotID)
	if err != nil {
		return nil, fmt.Errorf("rollback: %w", err)
	}
	if snap.BotID != botID {
		return nil, fmt.Errorf("rollback: snapshot %s does not belong to bot %s", snapshotID, botID)
	}

	preRollbackID := types.NewID()
	if _, err := m.CreateSnapshot(ctx, botID, preRollbackID); err != nil {
		return nil, fmt.Errorf("rollback: failed to create pre-rollback backup: %w", err)
	}
	report.PreRollbackSnapshot = preRollbackID
	report.StepsCompleted = append(report.StepsCompleted, stepPreRollbackBackup)

	if err := m.rollbackStep(ctx, report, stepDropCollection, func() error {
		if m.vectors == nil {
			return nil
		}
		return m.vectors.DeleteCollection(ctx, snap.CollectionConfig.CollectionName)
	}); err != nil {
		m.attemptRecovery(ctx, report, botID)
	}

	if err := m.rollbackStep(ctx, report, stepDeleteChunks, func() error {
		return m.rdb.DeleteChunksForBot(ctx, botID)
	}); err != nil {
		m.attemptRecovery(ctx, report, botID)
	}

	if err := m.rollbackStep(ctx, report, "reset_chunk_count", func() error {
		return m.rdb.ResetDocumentChunkCounts(ctx, botID)
	}); err != nil {
		m.attemptRecovery(ctx, report, botID)
	}

	if err := m.rollbackStep(ctx, report, stepRestoreMetadata, func() error {
		restored := snap.CollectionConfig
		return m.rdb.SaveCollectionMetadata(ctx, &restored)
	}); err != nil {
		m.attemptRecovery(ctx, report, botID)
	}

	verification, _ := m.VerifyIntegrity(ctx, botID, coreChecks)
	demoteVectorStoreCriticals(verification)
	report.Verification = verification
	report.StepsCompleted = append(report.StepsCompleted, stepVerify)
	report.EndedAt = time.Now()

	m.log.Info("rollback completed", "bot_id", botID.String(), "snapshot_id", snapshotID.String(), "passed", verification.Passed)
	return report, nil
}

func (m *Manager) rollbackStep(ctx context.Context, report *RollbackReport, name string, fn func() error) error {
	if err := fn(); err != nil {
		m.log.Error("rollback step failed", "step", name, "error", err.Error())
		return err
	}
	report.StepsCompleted = append(report.StepsCompleted, name)
	return nil
}

// attemptRecovery best-effort cleans partial rollback state: stray
// chunks left after a failed delete, and inconsistent chunk counts.
func (m *Manager) attemptRecovery(ctx context.Context, report *RollbackReport, botID types.ID) {
	report.RecoveryPerformed = true
	if err := m.rdb.DeleteChunksForBot(ctx, botID); err != nil {
		m.log.Warn("rollback recovery: failed to clean stray chunks", "error", err.Error())
	}
	if err := m.rdb.ResetDocumentChunkCounts(ctx, botID); err != nil {
		m.log.Warn("rollback recovery: failed to reset chunk counts", "error", err.Error())
	}
}

// demoteVectorStoreCriticals downgrades vector_store CRITICAL findings to
// WARNING for post-rollback verification, per spec §4.8: some deployments
// have no live vector store at rollback time.
func demoteVectorStoreCriticals(report *IntegrityReport) {
	if report == nil {
		return
	}
	issues, ok := report.Results[CheckVectorStore]
	if !ok {
		return
	}
	hadCritical := false
	for i := range issues {
		if issues[i].Level == LevelCritical {
			issues[i].Level = LevelWarning
			hadCritical = true
		}
	}
	if hadCritical {
		report.Passed = !hasCritical(report)
	}
}

func hasCritical(report *IntegrityReport) bool {
	for _, issues := range report.Results {
		for _, issue := range issues {
			if issue.Level == LevelCritical {
				return true
			}
		}
	}
	return false
}
