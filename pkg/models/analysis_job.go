package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Analysis Status
// ============================================================================

// AnalysisStatus represents where an analysis job is in its lifecycle.
type AnalysisStatus string

const (
	AnalysisStatusPending    AnalysisStatus = "pending"
	AnalysisStatusProcessing AnalysisStatus = "processing"
	AnalysisStatusCompleted  AnalysisStatus = "completed"
	AnalysisStatusFailed     AnalysisStatus = "failed"
)

// ValidAnalysisStatuses contains all valid analysis status values.
var ValidAnalysisStatuses = []AnalysisStatus{
	AnalysisStatusPending,
	AnalysisStatusProcessing,
	AnalysisStatusCompleted,
	AnalysisStatusFailed,
}

// IsValidAnalysisStatus checks if the given status is valid.
func IsValidAnalysisStatus(s AnalysisStatus) bool {
	for _, v := range ValidAnalysisStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// IsTerminal returns true if the status is completed or failed.
func (s AnalysisStatus) IsTerminal() bool {
	return s == AnalysisStatusCompleted || s == AnalysisStatusFailed
}

// CanTransitionTo returns true if moving from this status to target is allowed.
// Terminal states never transition; a resubmission creates a new job.
func (s AnalysisStatus) CanTransitionTo(target AnalysisStatus) bool {
	switch s {
	case AnalysisStatusPending:
		// Pending fails directly when the queue rejects or drops the job, or
		// when the startup sweep finds it left over from a previous run.
		return target == AnalysisStatusProcessing || target == AnalysisStatusFailed
	case AnalysisStatusProcessing:
		return target == AnalysisStatusCompleted || target == AnalysisStatusFailed
	default:
		return false
	}
}

// ============================================================================
// Analysis Job
// ============================================================================

// AnalysisJob tracks one analysis request from submission to a terminal state.
type AnalysisJob struct {
	AnalysisID  uuid.UUID      `json:"analysis_id"`
	FileID      uuid.UUID      `json:"file_id"`
	Standard    string         `json:"standard"`
	Status      AnalysisStatus `json:"status"`
	Message     string         `json:"message,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// Clone returns a copy safe to hand to callers outside the registry.
func (j *AnalysisJob) Clone() *AnalysisJob {
	if j == nil {
		return nil
	}
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// StatusMessage returns the message shown to polling clients.
func (j *AnalysisJob) StatusMessage() string {
	switch j.Status {
	case AnalysisStatusPending:
		return "分析任务排队中"
	case AnalysisStatusProcessing:
		return "正在分析文件..."
	case AnalysisStatusCompleted:
		return "分析完成"
	case AnalysisStatusFailed:
		if j.Message != "" {
			return "分析失败: " + j.Message
		}
		return "分析失败"
	default:
		return "未知状态"
	}
}
