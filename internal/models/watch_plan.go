package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// WatchPlan is a saved schedule. Saving under an existing name creates the next version.
type WatchPlan struct {
	ID        string         `db:"id" json:"id"`
	Name      string         `db:"name" json:"name"`
	Version   int            `db:"version" json:"version"`
	Meta      types.JSONText `db:"meta" json:"meta"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt time.Time      `db:"updated_at" json:"updated_at"`
}

// WatchPlanEntry is one scheduled episode inside a saved plan.
type WatchPlanEntry struct {
	ID          string    `db:"id" json:"id"`
	WatchPlanID string    `db:"watch_plan_id" json:"watch_plan_id"`
	WatchDate   time.Time `db:"watch_date" json:"watch_date"`
	Position    int       `db:"position" json:"position"`
	ShowID      string    `db:"show_id" json:"show_id"`
	ShowTitle   string    `db:"show_title" json:"show_title"`
	Season      int       `db:"season" json:"season"`
	Episode     int       `db:"episode" json:"episode"`
	Duration    int       `db:"duration" json:"duration"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// WatchPlanMeta is the JSON document stored in watch_plans.meta.
type WatchPlanMeta struct {
	StartDate   string    `json:"startDate"`
	EndDate     string    `json:"endDate"`
	HoursPerDay float64   `json:"hoursPerDay"`
	DaysPerWeek []string  `json:"daysPerWeek"`
	ShowIDs     []string  `json:"showIds"`
	Stats       PlanStats `json:"stats"`
}

// PlanStats summarises how much of the queue a schedule covers.
type PlanStats struct {
	TotalEpisodes       int  `json:"totalEpisodes"`
	ScheduledEpisodes   int  `json:"scheduledEpisodes"`
	UnscheduledEpisodes int  `json:"unscheduledEpisodes"`
	TotalMinutes        int  `json:"totalMinutes"`
	ScheduledMinutes    int  `json:"scheduledMinutes"`
	EligibleDays        int  `json:"eligibleDays"`
	Stalled             bool `json:"stalled"`
}
