package database

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllTablesCreateIfNotExists(t *testing.T) {
	tables := AllTables()
	require.Len(t, tables, 2)
	for _, sql := range tables {
		assert.Contains(t, sql, "CREATE TABLE IF NOT EXISTS")
		assert.Contains(t, sql, "ENGINE = MergeTree()")
	}
	assert.True(t, strings.Contains(tables[0], "nir_predictions"))
	assert.True(t, strings.Contains(tables[1], "session_history"))
}

func TestPredictionColumnsMatchInsert(t *testing.T) {
	for _, column := range []string{"timestamp", "session_id", "cursor", "actual_pol", "predicted_pol",
		"inference_ms", "alert", "anomaly", "noise_level", "threshold"} {
		assert.Contains(t, PredictionsTableSQL, "\t"+column+" ")
	}
}

func TestNewClickHouseDBFailsWithoutServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := NewClickHouseDB(ctx, Options{Addr: "127.0.0.1:1", Database: "nir", Username: "default"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to")
}
