package workers

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forestwatch/internal/services/performance"
	"forestwatch/pkg/errors"
)

type fakePerformance struct {
	histories map[string]*performance.History
	failures  map[string]error
	calls     []string
}

func (f *fakePerformance) Get(_ context.Context, region, tileID string) (*performance.History, error) {
	key := region + "/" + tileID
	f.calls = append(f.calls, key)
	if err, ok := f.failures[key]; ok {
		return nil, err
	}
	if h, ok := f.histories[key]; ok {
		return h, nil
	}
	return nil, errors.ErrNotFound
}

func writeWatchlist(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "watchlist.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestParseWatchlist(t *testing.T) {
	list, err := ParseWatchlist([]byte(`
tiles:
  - region: amazon
    tile_id: 22MBU
  - region: amazon
    tile_id: 21LYH
  - region: amazon
    tile_id: 22MBU
`))
	require.NoError(t, err)
	assert.Equal(t, []WatchedTile{
		{Region: "amazon", TileID: "22MBU"},
		{Region: "amazon", TileID: "21LYH"},
	}, list.Tiles)
}

func TestParseWatchlist_Invalid(t *testing.T) {
	_, err := ParseWatchlist([]byte("tiles:\n  - region: amazon\n"))
	assert.ErrorIs(t, err, errors.ErrDataIntegrity)

	_, err = ParseWatchlist([]byte("tiles: [unterminated"))
	assert.ErrorIs(t, err, errors.ErrDataIntegrity)
}

func TestLoadWatchlist_MissingFileIsEmpty(t *testing.T) {
	list, err := LoadWatchlist(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Empty(t, list.Tiles)
}

func TestPerformanceReviewWorker_Run(t *testing.T) {
	path := writeWatchlist(t, `
tiles:
  - {region: amazon, tile_id: 22MBU}
  - {region: amazon, tile_id: 21LYH}
  - {region: congo, tile_id: 33MTN}
`)
	reader := &fakePerformance{
		histories: map[string]*performance.History{
			"amazon/22MBU": {
				Region: "amazon",
				TileID: "22MBU",
				Summary: performance.Summary{
					TotalAnalyses:        6,
					AvgOverallConfidence: 0.71,
					PerformanceTrend:     "stable",
				},
				RecentAnomalies: []performance.Anomaly{{Type: "confidence_drop", Severity: "high"}},
			},
		},
		failures: map[string]error{"congo/33MTN": errors.Transient(errors.New("disk"), "read performance history")},
	}

	w := NewPerformanceReviewWorker(reader, path, time.Hour, true)
	err := w.Run(context.Background())

	require.Error(t, err, "read failures are reported")
	assert.Contains(t, err.Error(), "congo/33MTN")
	assert.Equal(t, []string{"amazon/22MBU", "amazon/21LYH", "congo/33MTN"}, reader.calls)
	assert.Equal(t, "performance_review", w.Name())
}

func TestPerformanceReviewWorker_EmptyWatchlist(t *testing.T) {
	reader := &fakePerformance{}
	w := NewPerformanceReviewWorker(reader, filepath.Join(t.TempDir(), "none.yaml"), time.Hour, true)

	require.NoError(t, w.Run(context.Background()))
	assert.Empty(t, reader.calls)
}
