package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/watchplan-api/internal/models"
	appErrors "github.com/noah-isme/watchplan-api/pkg/errors"
)

const metaContextKey = "response_meta"

// Envelope represents the common response contract.
type Envelope struct {
	Data       interface{}            `json:"data,omitempty"`
	Error      *appErrors.Error       `json:"error,omitempty"`
	Pagination *models.Pagination     `json:"pagination,omitempty"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
}

// SetMeta stores a meta entry that the next JSON response will carry.
func SetMeta(c *gin.Context, key string, value interface{}) {
	meta := contextMeta(c)
	if meta == nil {
		meta = map[string]interface{}{}
		c.Set(metaContextKey, meta)
	}
	meta[key] = value
}

func contextMeta(c *gin.Context) map[string]interface{} {
	if v, ok := c.Get(metaContextKey); ok {
		if meta, ok := v.(map[string]interface{}); ok {
			return meta
		}
	}
	return nil
}

// JSON sends a success response with optional pagination metadata.
func JSON(c *gin.Context, status int, data interface{}, pagination *models.Pagination, meta ...map[string]interface{}) {
	c.Header("Cache-Control", "no-store")
	envelope := Envelope{Data: data, Pagination: pagination}

	merged := contextMeta(c)
	if len(meta) > 0 && meta[0] != nil {
		if merged == nil {
			merged = map[string]interface{}{}
		}
		for k, v := range meta[0] {
			merged[k] = v
		}
	}
	if len(merged) > 0 {
		envelope.Meta = merged
	}
	c.JSON(status, envelope)
}

// Created responds with HTTP 201 Created.
func Created(c *gin.Context, data interface{}) {
	JSON(c, http.StatusCreated, data, nil)
}

// Accepted responds with HTTP 202 for work that completes asynchronously.
func Accepted(c *gin.Context, data interface{}) {
	JSON(c, http.StatusAccepted, data, nil)
}

// Error sends an error response converting the error to the common structure.
func Error(c *gin.Context, err error) {
	appErr := appErrors.FromError(err)
	c.Header("Cache-Control", "no-store")
	c.JSON(appErr.Status, Envelope{Error: appErr})
}

// NoContent sends a 204 response.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
