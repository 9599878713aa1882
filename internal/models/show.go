package models

import "time"

// Priority orders shows inside a generated schedule.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank returns the sort weight of the priority; unknown values rank below low.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	return p.Rank() > 0
}

// Show is a catalogue entry describing a series the viewer wants to watch.
type Show struct {
	ID                string    `db:"id" json:"id"`
	Title             string    `db:"title" json:"title"`
	Seasons           int       `db:"seasons" json:"seasons"`
	EpisodesPerSeason int       `db:"episodes_per_season" json:"episodes_per_season"`
	EpisodeDuration   int       `db:"episode_duration" json:"episode_duration"`
	Priority          Priority  `db:"priority" json:"priority"`
	Image             *string   `db:"image" json:"image,omitempty"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// TotalEpisodes is seasons times episodes per season.
func (s Show) TotalEpisodes() int {
	return s.Seasons * s.EpisodesPerSeason
}

// ShowFilter captures filtering criteria for listing shows.
type ShowFilter struct {
	Search   string
	Priority *Priority
	Page     int
	PageSize int
}
