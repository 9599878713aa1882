package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/watchplan-api/pkg/config"
)

func TestAddress(t *testing.T) {
	assert.Equal(t, "cache:6380", Address(config.RedisConfig{Host: "cache", Port: 6380}))
}
