// README: Bench cases: environment, schema, public endpoints, driver/ride flows and load.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const (
	statusPass = "PASS"
	statusFail = "FAIL"
	statusSkip = "SKIP"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))
	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	return results
}

func (r *Runner) cases() []TestCase {
	base := r.cfg.BaseURL
	zone := r.cfg.Zone
	driverPath := base + "/api/drivers/" + r.cfg.DriverID
	ping := func(lat, lng float64) map[string]any {
		return map[string]any{
			"zone_id": zone, "lat": lat, "lng": lng, "tier": "budget", "rating": 4.9,
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		}
	}
	return []TestCase{
		{
			Name: "Env: Postgres connect",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: statusFail, Note: "db not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.db.Ping(ctx); err != nil {
					return Result{Status: statusFail, Note: err.Error()}
				}
				return Result{Status: statusPass}
			},
		},
		{
			Name: "Env: Redis connect",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: statusFail, Note: "redis not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return Result{Status: statusFail, Note: err.Error()}
				}
				return Result{Status: statusPass}
			},
		},
		{
			Name: "Migration: apply (optional)",
			Run: func(ctx context.Context, r *Runner) Result {
				if !r.cfg.ApplyMigration {
					return Result{Status: statusSkip, Note: "apply-migration=false"}
				}
				if r.db == nil {
					return Result{Status: statusFail, Note: "db not configured"}
				}
				sql, err := os.ReadFile(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: statusFail, Note: err.Error()}
				}
				for _, s := range splitSQL(string(sql)) {
					if _, err := r.db.Exec(ctx, s); err != nil {
						return Result{Status: statusFail, Note: err.Error()}
					}
				}
				return Result{Status: statusPass}
			},
		},
		{
			Name: "Migration: tables exist",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: statusFail, Note: "db not configured"}
				}
				tables, err := extractTables(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: statusFail, Note: err.Error()}
				}
				for _, t := range tables {
					var exists bool
					err := r.db.QueryRow(ctx,
						"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)", t,
					).Scan(&exists)
					if err != nil {
						return Result{Status: statusFail, Note: err.Error()}
					}
					if !exists {
						return Result{Status: statusFail, Note: "missing table: " + t}
					}
				}
				return Result{Status: statusPass, Note: fmt.Sprintf("%d tables", len(tables))}
			},
		},

		httpCase("API: health", http.MethodGet, base+"/health", "", nil, http.StatusOK),
		httpCase("API: metrics exposed", http.MethodGet, base+"/metrics", "", nil, http.StatusOK),
		httpCase("Preview: k-ring", http.MethodGet, base+"/api/preview?lat=25.033&lng=121.5654&resolution=8&k=2", "", nil, http.StatusOK),
		httpCase("Preview: bad resolution -> 400", http.MethodGet, base+"/api/preview?lat=25.033&lng=121.5654&resolution=12", "", nil, http.StatusBadRequest),
		httpCase("Auth: missing token -> 401", http.MethodPost, base+"/api/rides", "", map[string]any{}, http.StatusUnauthorized),

		authCase("Driver: go online", r.cfg.DriverToken, http.MethodPut, driverPath+"/availability", map[string]any{"available": true}, http.StatusOK, http.StatusNotFound),
		authCase("Driver: location ping", r.cfg.DriverToken, http.MethodPost, driverPath+"/location", ping(25.0330, 121.5654), http.StatusOK),
		authCase("Driver: invalid coords -> 400", r.cfg.DriverToken, http.MethodPost, driverPath+"/location", ping(123, 456), http.StatusBadRequest),
		authCase("Ride: missing fields -> 400", r.cfg.RiderToken, http.MethodPost, base+"/api/rides", map[string]any{}, http.StatusBadRequest),
		authCase("Ride: request", r.cfg.RiderToken, http.MethodPost, base+"/api/rides", map[string]any{
			"zone_id": zone, "lat": 25.0335, "lng": 121.5650, "tier": "budget",
		}, http.StatusCreated),
		authCase("Zone: heatmap", r.cfg.AdminToken, http.MethodGet, base+"/api/zones/"+zone+"/heatmap?lookback_minutes=60", nil, http.StatusOK),
		authCase("Zone: analytics over 92 days -> 400", r.cfg.AdminToken, http.MethodGet, base+"/api/zones/"+zone+"/analytics?from=2026-01-01&to=2026-04-30", nil, http.StatusBadRequest),
		authCase("Admin: read settings", r.cfg.AdminToken, http.MethodGet, base+"/api/admin/zones/"+zone+"/settings", nil, http.StatusOK),
		authCase("Admin: non-admin -> 403", r.cfg.RiderToken, http.MethodGet, base+"/api/admin/zones/"+zone+"/settings", nil, http.StatusForbidden),

		{
			Name: "Concurrency: many rides, one driver",
			Run: func(ctx context.Context, r *Runner) Result {
				return concurrentRides(ctx, r)
			},
		},
		{
			Name: "Perf: location ping throughput",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.cfg.DriverToken == "" || r.cfg.DriverID == "" {
					return Result{Status: statusSkip, Note: "driver token not set"}
				}
				return perfLoad(ctx, r, http.MethodPost, driverPath+"/location", r.cfg.DriverToken, func() any {
					return ping(25.0330, 121.5654)
				})
			},
		},
		{
			Name: "Perf: preview throughput",
			Run: func(ctx context.Context, r *Runner) Result {
				return perfLoad(ctx, r, http.MethodGet, base+"/api/preview?lat=25.033&lng=121.5654&k=3", "", nil)
			},
		},
	}
}

func (r *Runner) do(ctx context.Context, method, url, token string, body any) (int, []byte, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = strings.NewReader(string(b))
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, 0, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b, time.Since(start), nil
}

func httpCase(name, method, url, token string, body any, ok ...int) TestCase {
	return TestCase{
		Name: name,
		Run: func(ctx context.Context, r *Runner) Result {
			code, _, latency, err := r.do(ctx, method, url, token, body)
			if err != nil {
				return Result{Status: statusFail, Note: err.Error()}
			}
			if contains(ok, code) {
				return Result{Status: statusPass, Latency: latency, Note: fmt.Sprintf("status=%d", code)}
			}
			return Result{Status: statusFail, Latency: latency, Note: fmt.Sprintf("status=%d", code)}
		},
	}
}

// authCase is skipped when token is empty.
func authCase(name, token, method, url string, body any, ok ...int) TestCase {
	tc := httpCase(name, method, url, token, body, ok...)
	run := tc.Run
	tc.Run = func(ctx context.Context, r *Runner) Result {
		if token == "" {
			return Result{Status: statusSkip, Note: "token not set"}
		}
		return run(ctx, r)
	}
	return tc
}

// concurrentRides puts one driver online and fires Concurrency ride requests at
// the same pickup. At most one may end ASSIGNED to that driver.
func concurrentRides(ctx context.Context, r *Runner) Result {
	if r.cfg.DriverToken == "" || r.cfg.RiderToken == "" || r.cfg.DriverID == "" {
		return Result{Status: statusSkip, Note: "driver and rider tokens not set"}
	}
	base := r.cfg.BaseURL
	ids := make(chan string, r.cfg.Concurrency)
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			code, b, _, err := r.do(ctx, http.MethodPost, base+"/api/rides", r.cfg.RiderToken, map[string]any{
				"zone_id": r.cfg.Zone, "lat": 25.0331, "lng": 121.5655, "tier": "budget",
			})
			if err != nil || code != http.StatusCreated {
				return
			}
			var out struct {
				ID string `json:"id"`
			}
			if json.Unmarshal(b, &out) == nil {
				ids <- out.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	time.Sleep(2 * time.Second)
	assigned := 0
	for id := range ids {
		_, b, _, err := r.do(ctx, http.MethodGet, base+"/api/rides/"+id, r.cfg.RiderToken, nil)
		if err != nil {
			continue
		}
		var out struct {
			Status   string `json:"status"`
			DriverID string `json:"driver_id"`
		}
		if json.Unmarshal(b, &out) == nil && out.Status == "ASSIGNED" && out.DriverID == r.cfg.DriverID {
			assigned++
		}
	}
	if assigned <= 1 {
		return Result{Status: statusPass, Note: fmt.Sprintf("assigned=%d", assigned)}
	}
	return Result{Status: statusFail, Note: fmt.Sprintf("driver assigned %d times", assigned)}
}

func perfLoad(ctx context.Context, r *Runner, method, url, token string, body func() any) Result {
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount int64
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				var payload any
				if body != nil {
					payload = body()
				}
				code, _, _, err := r.do(ctx, method, url, token, payload)
				mu.Lock()
				if err != nil || code >= 500 {
					errCount++
				} else {
					count++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if count == 0 {
		return Result{Status: statusFail, Note: "no requests completed"}
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	return Result{Status: statusPass, Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount)}
}

func contains(list []int, v int) bool {
	for _, i := range list {
		if i == v {
			return true
		}
	}
	return false
}

func extractTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	matches := re.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}

func splitSQL(sql string) []string {
	lines := strings.Split(sql, "\n")
	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		l := strings.TrimSpace(line)
		if strings.HasPrefix(l, "--") || l == "" {
			continue
		}
		filtered = append(filtered, line)
	}
	parts := strings.Split(strings.Join(filtered, "\n"), ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
