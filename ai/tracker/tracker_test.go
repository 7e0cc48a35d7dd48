package tracker

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sftest "github.com/sheetflow/sheetflow/internal/testing"
)

func TestRecordUsageAndStats(t *testing.T) {
	db := sftest.CreateTestDB(t)
	tr := New(db)

	require.NoError(t, tr.RecordUsage(&UsageRecord{
		BatchLocalID:     "b-1",
		PromptName:       "summary",
		Model:            "gpt-4o-mini",
		PricingMode:      "batch",
		RequestCount:     10,
		PromptTokens:     1000,
		CompletionTokens: 500,
		TotalTokens:      1500,
		Cost:             0.000225,
	}))
	require.NoError(t, tr.RecordUsage(&UsageRecord{
		PromptName:   "sentiment",
		Model:        "gpt-4o-mini",
		PricingMode:  "sync",
		RequestCount: 2,
		TotalTokens:  300,
		Cost:         0.0001,
	}))

	since := time.Now().Add(-time.Hour)
	stats, err := tr.GetStats(since)
	require.NoError(t, err)

	assert.Equal(t, 12, stats.TotalRequests)
	assert.Equal(t, 1800, stats.TotalTokens)
	assert.InDelta(t, 0.000325, stats.TotalCost, 1e-9)
	assert.Equal(t, 0, stats.ErrorCount)
}

func TestRecordErrorCountsInStats(t *testing.T) {
	db := sftest.CreateTestDB(t)
	tr := New(db)

	require.NoError(t, tr.RecordError(&ErrorRecord{
		BatchLocalID: "b-1",
		RowOrdinal:   0, // unattributable decode failure
		Stage:        "decode",
		Message:      "correlation id: insufficient tokens",
	}))
	require.NoError(t, tr.RecordError(&ErrorRecord{
		BatchLocalID: "b-1",
		RowOrdinal:   4,
		PromptName:   "summary",
		Stage:        "provider",
		Message:      "rate_limit_exceeded",
	}))

	stats, err := tr.GetStats(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ErrorCount)
}

func TestGetPromptBreakdown(t *testing.T) {
	db := sftest.CreateTestDB(t)
	tr := New(db)

	require.NoError(t, tr.RecordUsage(&UsageRecord{
		PromptName: "cheap", Model: "gpt-4o-mini", PricingMode: "sync",
		RequestCount: 1, TotalTokens: 100, Cost: 0.0001,
	}))
	require.NoError(t, tr.RecordUsage(&UsageRecord{
		PromptName: "expensive", Model: "gpt-4o", PricingMode: "sync",
		RequestCount: 1, TotalTokens: 100, Cost: 0.01,
	}))

	breakdown, err := tr.GetPromptBreakdown(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, breakdown, 2)

	// Most expensive first
	assert.Equal(t, "expensive", breakdown[0].PromptName)
	assert.Equal(t, "cheap", breakdown[1].PromptName)
}

func TestRecordUsageFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO usage_log").WillReturnError(assert.AnError)

	tr := New(db)
	err = tr.RecordUsage(&UsageRecord{PromptName: "summary"})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
