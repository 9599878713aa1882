package dto

import "github.com/noah-isme/watchplan-api/internal/models"

// GenerateScheduleRequest asks the generator for a day by day viewing plan.
type GenerateScheduleRequest struct {
	ShowIDs     []string `json:"showIds" validate:"omitempty,dive,required"`
	StartDate   string   `json:"startDate" validate:"required,datetime=2006-01-02"`
	EndDate     string   `json:"endDate" validate:"required,datetime=2006-01-02"`
	HoursPerDay float64  `json:"hoursPerDay" validate:"required,gt=0,lte=24"`
	DaysPerWeek []string `json:"daysPerWeek" validate:"dive,required"`
}

// ScheduledEpisodeView is an episode as rendered in a schedule preview.
type ScheduledEpisodeView struct {
	ShowID    string `json:"showId"`
	ShowTitle string `json:"showTitle"`
	Season    int    `json:"season"`
	Episode   int    `json:"episode"`
	Duration  int    `json:"duration"`
	Image     string `json:"image,omitempty"`
}

// ScheduleDayView is one eligible date with its episodes.
type ScheduleDayView struct {
	Date         string                 `json:"date"`
	Weekday      string                 `json:"weekday"`
	Label        string                 `json:"label"`
	TotalMinutes int                    `json:"totalMinutes"`
	Episodes     []ScheduledEpisodeView `json:"episodes"`
}

// ScheduleSettingsView echoes the normalised settings.
type ScheduleSettingsView struct {
	StartDate   string   `json:"startDate"`
	EndDate     string   `json:"endDate"`
	HoursPerDay float64  `json:"hoursPerDay"`
	DaysPerWeek []string `json:"daysPerWeek"`
}

// GenerateScheduleResponse is the preview returned by POST /schedules/generate.
type GenerateScheduleResponse struct {
	ProposalID string               `json:"proposalId"`
	Settings   ScheduleSettingsView `json:"settings"`
	Days       []ScheduleDayView    `json:"days"`
	Stats      models.PlanStats     `json:"stats"`
	Cached     bool                 `json:"cached"`
}

// SaveScheduleRequest persists a previously generated proposal.
type SaveScheduleRequest struct {
	ProposalID string `json:"proposalId" validate:"required"`
	Name       string `json:"name" validate:"omitempty,max=200"`
}

// WatchPlanSummary is a list entry for saved plans.
type WatchPlanSummary struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Version   int              `json:"version"`
	StartDate string           `json:"startDate"`
	EndDate   string           `json:"endDate"`
	Stats     models.PlanStats `json:"stats"`
	CreatedAt string           `json:"createdAt"`
}

// WatchPlanResponse is a saved plan with its days rebuilt.
type WatchPlanResponse struct {
	WatchPlanSummary
	Settings ScheduleSettingsView `json:"settings"`
	Days     []ScheduleDayView    `json:"days"`
}
