package database

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mlm-network/internal/config"
)

func TestDSN(t *testing.T) {
	cfg := &config.Config{
		DBHost:     "db",
		DBUser:     "mlm",
		DBPassword: "secret",
		DBName:     "network",
		DBPort:     "5433",
		DBSSLMode:  "require",
	}
	assert.Equal(t, "host=db user=mlm password=secret dbname=network port=5433 sslmode=require TimeZone=UTC", DSN(cfg))
}
