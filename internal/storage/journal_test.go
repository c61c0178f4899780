package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"binance-ai-trader-go/internal/models"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := OpenJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

// TestJournalAppendAndCount verifies the append-only trade audit trail.
func TestJournalAppendAndCount(t *testing.T) {
	j := openTestJournal(t)
	base := time.Now()

	for i := 0; i < 3; i++ {
		require.NoError(t, j.AppendTrade(models.TradeRecord{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Symbol:    "BTCUSDT",
			Side:      models.Buy,
			Quantity:  0.001,
			Price:     50000,
			Notional:  50,
			Status:    models.TradeSuccess,
			OrderID:   "1",
		}))
	}

	n, err := j.TradeCountSince(base.Add(-time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	// Counting from a later cutoff excludes the earlier rows.
	n, err = j.TradeCountSince(base.Add(90 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

// TestJournalAppendLog verifies that strategy log entries persist without error.
func TestJournalAppendLog(t *testing.T) {
	j := openTestJournal(t)

	require.NoError(t, j.AppendLog(models.LogEntry{
		Timestamp: time.Now(),
		Level:     models.LevelWarning,
		Message:   "forecast for SOLUSDT unavailable",
	}))
}
