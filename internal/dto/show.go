package dto

import "github.com/noah-isme/watchplan-api/internal/models"

// ShowRequest is the payload for creating or replacing a show. Omitted numbers and priority
// fall back to the catalogue defaults.
type ShowRequest struct {
	Title             string           `json:"title" validate:"required,max=200"`
	Seasons           *int             `json:"seasons" validate:"omitempty,min=1,max=1000"`
	EpisodesPerSeason *int             `json:"episodesPerSeason" validate:"omitempty,min=1,max=1000"`
	EpisodeDuration   *int             `json:"episodeDuration" validate:"omitempty,min=1,max=1440"`
	Priority          *models.Priority `json:"priority" validate:"omitempty,oneof=high medium low"`
	Image             *string          `json:"image" validate:"omitempty,url,max=2048"`
}

// ShowQuery filters GET /shows.
type ShowQuery struct {
	Search   string `form:"search"`
	Priority string `form:"priority"`
	Page     int    `form:"page"`
	Limit    int    `form:"limit"`
}
