package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Social job statuses.
const (
	JobQueued    = "queued"
	JobPosting   = "posting"
	JobPosted    = "posted"
	JobFailed    = "failed"
	JobPaused    = "paused"
	JobCancelled = "cancelled"
)

// MaxAttempts is the number of execution attempts after which a failed job
// stops being retried automatically.
const MaxAttempts = 8

// Known destination platforms.
var Platforms = []string{"x", "instagram", "linkedin", "facebook", "tiktok", "youtube"}

// jobTransitions lists, for each status, the statuses a job may move to.
// posted and cancelled are terminal.
var jobTransitions = map[string][]string{
	JobQueued:    {JobPosting, JobPaused, JobCancelled, JobQueued},
	JobFailed:    {JobPosting, JobPaused, JobCancelled, JobQueued},
	JobPosting:   {JobPosted, JobFailed},
	JobPaused:    {JobQueued, JobCancelled},
	JobPosted:    nil,
	JobCancelled: nil,
}

// JobStatuses returns every job status.
func JobStatuses() []string {
	return []string{JobQueued, JobPosting, JobPosted, JobFailed, JobPaused, JobCancelled}
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to string) bool {
	for _, s := range jobTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves the status.
func IsTerminal(status string) bool {
	next, ok := jobTransitions[status]
	return ok && len(next) == 0
}

// IsKnownPlatform reports whether p is one of Platforms.
func IsKnownPlatform(p string) bool {
	for _, known := range Platforms {
		if known == p {
			return true
		}
	}
	return false
}

// PostContent is the payload delivered to a platform adapter.
type PostContent struct {
	Text      string   `json:"text"`
	MediaURLs []string `json:"mediaUrls,omitempty"`
}

// SocialJob is one scheduled outbound post.
type SocialJob struct {
	ID            string                          `gorm:"column:id;primaryKey;size:36" json:"id"`
	ProfileID     string                          `gorm:"column:profile_id;size:191;not null;index:idx_social_queue_profile_sched,priority:1" json:"profile_id"`
	Platform      string                          `gorm:"column:platform;size:32;not null;index:idx_social_queue_platform_status,priority:1" json:"platform"`
	Content       datatypes.JSONType[PostContent] `gorm:"column:content;not null" json:"content"`
	ScheduledAt   time.Time                       `gorm:"column:scheduled_at;not null;index:idx_social_queue_ready,priority:2;index:idx_social_queue_profile_sched,priority:2" json:"scheduled_at"`
	Status        string                          `gorm:"column:status;size:20;not null;default:queued;index:idx_social_queue_ready,priority:1;index:idx_social_queue_platform_status,priority:2" json:"status"`
	Attempts      int                             `gorm:"column:attempts;not null;default:0" json:"attempts"`
	NextAttemptAt *time.Time                      `gorm:"column:next_attempt_at" json:"next_attempt_at"`
	LastError     *string                         `gorm:"column:last_error;type:text" json:"last_error"`
	CreatedAt     time.Time                       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time                       `gorm:"column:updated_at;autoUpdateTime;index:idx_social_queue_updated" json:"updated_at"`
}

func (SocialJob) TableName() string {
	return "social_queue"
}

// BeforeCreate assigns a UUID when the caller did not.
func (j *SocialJob) BeforeCreate(tx *gorm.DB) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.Status == "" {
		j.Status = JobQueued
	}
	return nil
}

// IsExhausted reports whether the job failed with no retry left. Only an
// operator retry makes it eligible again.
func (j *SocialJob) IsExhausted() bool {
	return j.Status == JobFailed && j.NextAttemptAt == nil
}

// IsReady reports whether the job is eligible for pickup at now.
func (j *SocialJob) IsReady(now time.Time) bool {
	if j.Status != JobQueued && j.Status != JobFailed {
		return false
	}
	if j.IsExhausted() || j.ScheduledAt.After(now) {
		return false
	}
	return j.NextAttemptAt == nil || !j.NextAttemptAt.After(now)
}
