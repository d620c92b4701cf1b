// README: Postgres-backed sink tests; skipped unless a database is reachable via HC_TEST_DSN or HC_DB_DSN.
package cellmetrics

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"honeycomb/internal/modules/pricing"
)

// pgSink returns a store on a fresh zone id so runs never collide.
func pgSink(t *testing.T) (*PgStore, *pgxpool.Pool, string) {
	t.Helper()

	candidates := uniqueNonEmpty(
		strings.TrimSpace(os.Getenv("HC_TEST_DSN")),
		strings.TrimSpace(os.Getenv("HC_DB_DSN")),
	)
	if len(candidates) == 0 {
		t.Skip("HC_TEST_DSN/HC_DB_DSN not set")
	}

	ctx := context.Background()
	var errs []string
	for _, dsn := range candidates {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		db, err := pgxpool.New(cctx, dsn)
		if err == nil {
			err = db.Ping(cctx)
			if err != nil {
				db.Close()
			}
		}
		cancel()
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s -> %v", redactedDSN(dsn), err))
			continue
		}
		t.Cleanup(db.Close)
		require.NoError(t, applyMigration(ctx, db))
		return NewPgStore(db), db, fmt.Sprintf("test-%d", time.Now().UnixNano())
	}
	t.Skipf("no reachable postgres: %s", strings.Join(errs, "; "))
	return nil, nil, ""
}

func TestPgWriteWindowKeepsFirstWrite(t *testing.T) {
	s, _, zoneID := pgSink(t)
	ctx := context.Background()

	first := row("c1", t0, 2, 4, 1.0)
	first.ZoneID = zoneID
	replay := first
	replay.SupplyTotal = 9

	require.NoError(t, s.WriteWindow(ctx, []CellWindowMetric{first}))
	require.NoError(t, s.WriteWindow(ctx, []CellWindowMetric{replay}))

	got, err := s.WindowsSince(ctx, zoneID, t0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].SupplyTotal)
	assert.True(t, got[0].WindowStart.Equal(t0))
}

func TestPgWriteEpochsKeepsPeakAndFirstEnd(t *testing.T) {
	s, _, zoneID := pgSink(t)
	ctx := context.Background()

	end := t0.Add(15 * time.Minute)
	later := end.Add(5 * time.Minute)
	base := pricing.SurgeEpoch{ZoneID: zoneID, CellID: "c1", StartedAt: t0, Multiplier: 1.25, Imbalance: 2, Supply: 1, Demand: 3}

	peak := base
	peak.Multiplier = 1.75
	closed := base
	closed.EndedAt = &end
	replayed := base
	replayed.EndedAt = &later

	for _, e := range []pricing.SurgeEpoch{base, peak, closed, replayed} {
		require.NoError(t, s.WriteEpochs(ctx, []pricing.SurgeEpoch{e}))
	}

	got, err := s.Epochs(ctx, zoneID, t0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1.75, got[0].Multiplier)
	require.NotNil(t, got[0].EndedAt)
	assert.True(t, got[0].EndedAt.Equal(end))
}

func TestPgWriteDwellAccumulates(t *testing.T) {
	s, db, zoneID := pgSink(t)
	ctx := context.Background()

	b := NewDwellBuffer()
	b.RecordDwell(zoneID, "d1", "c1", 90*time.Second, t0)
	b.RecordTrip(zoneID, "d1", "c1", 120, t0)
	_, err := b.Flush(ctx, s)
	require.NoError(t, err)

	b.RecordDwell(zoneID, "d1", "c1", 30*time.Second, t0.Add(time.Hour))
	_, err = b.Flush(ctx, s)
	require.NoError(t, err)

	var dwell, trips int64
	var earnings float64
	err = db.QueryRow(ctx, `
        SELECT dwell_seconds, trips, earnings FROM driver_h3_history
        WHERE driver_id = 'd1' AND zone_id = $1 AND cell_id = 'c1'`, zoneID,
	).Scan(&dwell, &trips, &earnings)
	require.NoError(t, err)
	assert.Equal(t, int64(120), dwell)
	assert.Equal(t, int64(1), trips)
	assert.Equal(t, 120.0, earnings)
}

func TestPgAnalyticsMatchesMemorySink(t *testing.T) {
	s, _, zoneID := pgSink(t)
	ctx := context.Background()
	mem := NewMemorySink()

	var rows []CellWindowMetric
	for i, r := range []CellWindowMetric{
		row("c1", t0, 2, 4, 1.0),
		row("c1", t0.Add(5*time.Minute), 3, 9, 2.0),
		row("c2", t0, 4, 2, -0.5),
		row("c2", t0.Add(24*time.Hour), 1, 1, 0),
	} {
		r.ZoneID = zoneID
		r.CenterLat, r.CenterLng = 25.03+float64(i)*0.001, 121.56
		rows = append(rows, r)
	}
	require.NoError(t, s.WriteWindow(ctx, rows))
	require.NoError(t, mem.WriteWindow(ctx, rows))

	from, to := Day(t0), Day(t0).Add(48*time.Hour)

	wantDaily, err := mem.DailyStats(ctx, zoneID, from, to)
	require.NoError(t, err)
	gotDaily, err := s.DailyStats(ctx, zoneID, from, to)
	require.NoError(t, err)
	require.Len(t, gotDaily, len(wantDaily))
	for i := range wantDaily {
		assert.True(t, wantDaily[i].Day.Equal(gotDaily[i].Day))
		gotDaily[i].Day = wantDaily[i].Day
	}
	assert.Equal(t, wantDaily, gotDaily)

	wantTop, err := mem.TopHotspots(ctx, zoneID, from, to, 10)
	require.NoError(t, err)
	gotTop, err := s.TopHotspots(ctx, zoneID, from, to, 10)
	require.NoError(t, err)
	require.Len(t, gotTop, len(wantTop))
	for i := range wantTop {
		assert.Equal(t, wantTop[i].CellID, gotTop[i].CellID)
		assert.Equal(t, wantTop[i].AvgImbalance, gotTop[i].AvgImbalance)
		assert.Equal(t, wantTop[i].Windows, gotTop[i].Windows)
	}
}

func applyMigration(ctx context.Context, db *pgxpool.Pool) error {
	root, err := repoRoot()
	if err != nil {
		return err
	}
	content, err := os.ReadFile(filepath.Join(root, "migrations", "0001_init.sql"))
	if err != nil {
		return err
	}
	var b strings.Builder
	for _, line := range strings.Split(string(content), "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	for _, stmt := range strings.Split(b.String(), ";") {
		if stmt = strings.TrimSpace(stmt); stmt == "" {
			continue
		}
		if _, err := db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for i := 0; i < 6; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", os.ErrNotExist
}

func uniqueNonEmpty(values ...string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func redactedDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	u.User = url.User(u.User.Username())
	return u.String()
}
