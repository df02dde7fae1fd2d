package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactDSN(t *testing.T) {
	assert.Equal(t,
		"host=db user=app password=xxxxx dbname=agents sslmode=disable",
		redactDSN("host=db user=app password=hunter2 dbname=agents sslmode=disable"))

	assert.Equal(t,
		"host=db user=app dbname=agents",
		redactDSN("host=db user=app dbname=agents"),
		"DSNs without a password pass through unchanged")
}
