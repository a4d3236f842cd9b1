// README: Bench cases for the delivery API; includes HTTP, DB, Redis, consistency and load checks.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
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
	Name  string
	Focus string
	Run   func(ctx context.Context, r *Runner) Result
}

// caller is the identity a request is sent as.
type caller struct {
	id   string
	role string
}

var (
	benchCustomer = caller{id: "bench_customer", role: "customer"}
	benchDriver   = caller{id: "bench_driver", role: "driver"}
	benchAdmin    = caller{id: "bench_admin", role: "admin"}
)

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

func (r *Runner) quotePayload(vehicle string) map[string]any {
	return map[string]any{
		"origin":        r.cfg.Origin,
		"destination":   r.cfg.Destination,
		"vehicle_class": vehicle,
		"flow":          "full_quote",
		"pickup_at":     time.Now().Add(3 * time.Hour).UTC().Format(time.RFC3339),
		"cargo":         map[string]int{"boxes": 2, "suitcases": 1},
	}
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{
			Name:  "Env: Postgres connect",
			Focus: "DB reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: statusSkip, Note: "db not configured"}
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
			Name:  "Env: Redis connect",
			Focus: "Redis reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: statusSkip, Note: "redis not configured"}
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
			Name:  "Migration: apply (optional)",
			Focus: "Apply migration SQL",
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
			Name:  "Migration: tables exist",
			Focus: "Tables from migrations/0001_init.sql exist",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: statusSkip, Note: "db not configured"}
				}
				tables, err := extractTables(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: statusFail, Note: err.Error()}
				}
				for _, t := range tables {
					var exists bool
					err := r.db.QueryRow(ctx,
						"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
						t,
					).Scan(&exists)
					if err != nil {
						return Result{Status: statusFail, Note: err.Error()}
					}
					if !exists {
						return Result{Status: statusFail, Note: "missing table: " + t}
					}
				}
				return Result{Status: statusPass, Note: strings.Join(tables, ",")}
			},
		},

		statusCase("API: health", http.MethodGet, "/health", nil, caller{}, http.StatusOK),
		statusCase("API: unauthenticated quote -> 401", http.MethodPost, "/api/quotes", map[string]any{}, caller{}, http.StatusUnauthorized),
		statusCase("API: tariffs", http.MethodGet, "/api/tariffs", nil, benchCustomer, http.StatusOK),
		statusCase("API: admin revenue requires admin", http.MethodGet, "/api/admin/revenue", nil, benchCustomer, http.StatusForbidden),
		statusCase("API: admin revenue", http.MethodGet, "/api/admin/revenue", nil, benchAdmin, http.StatusOK),

		// Pricing
		{
			Name:  "Quote: full quote reconciles",
			Focus: "net + tax = total, company + driver = net",
			Run: func(ctx context.Context, r *Runner) Result {
				var out struct {
					Breakdown struct {
						NetPrice           int64 `json:"net_price"`
						TaxAmount          int64 `json:"tax_amount"`
						TotalCustomerPrice int64 `json:"total_customer_price"`
						CompanyRevenue     int64 `json:"company_revenue"`
						DriverRevenue      int64 `json:"driver_revenue"`
					} `json:"breakdown"`
				}
				res := r.expectJSON(ctx, http.MethodPost, "/api/quotes", r.quotePayload("light_van"), benchCustomer, http.StatusOK, &out)
				if res.Status != statusPass {
					return res
				}
				b := out.Breakdown
				if b.NetPrice+b.TaxAmount != b.TotalCustomerPrice || b.CompanyRevenue+b.DriverRevenue != b.NetPrice {
					return Result{Status: statusFail, Latency: res.Latency, Note: fmt.Sprintf("unreconciled breakdown %+v", b)}
				}
				res.Note = fmt.Sprintf("total=%d", b.TotalCustomerPrice)
				return res
			},
		},
		reasonCase("Quote: negative toll -> 422", "negative_toll", func(r *Runner) map[string]any {
			p := r.quotePayload("light_van")
			p["flow"] = "manual"
			p["toll_fee"] = -1
			return p
		}),
		reasonCase("Quote: blank address -> 422", "route_not_found", func(r *Runner) map[string]any {
			p := r.quotePayload("light_van")
			p["origin"] = " "
			return p
		}),
		reasonCase("Quote: unknown vehicle -> 422", "missing_vehicle", func(r *Runner) map[string]any {
			return r.quotePayload("hovercraft")
		}),

		// Quote sessions
		{
			Name:  "Session: debounced quote settles",
			Focus: "open, update, observe ready, close",
			Run:   sessionFlow,
		},

		// Order lifecycle
		{
			Name:  "Order: create, accept, pick up, deliver",
			Focus: "pending -> assigned -> picked_up -> delivered",
			Run:   orderLifecycle,
		},
		{
			Name:  "Order: cancel pending then accept -> 409",
			Focus: "terminal states are final",
			Run: func(ctx context.Context, r *Runner) Result {
				id, res := r.createOrder(ctx)
				if res.Status != statusPass {
					return res
				}
				if res := r.expectJSON(ctx, http.MethodPost, "/api/orders/"+id+"/cancel", map[string]any{"reason": "bench"}, benchCustomer, http.StatusOK, nil); res.Status != statusPass {
					return res
				}
				return r.expectJSON(ctx, http.MethodPost, "/api/drivers/orders/"+id+"/accept", nil, benchDriver, http.StatusConflict, nil)
			},
		},

		// Concurrency
		{
			Name:  "Concurrency: multi accept same order",
			Focus: "exactly one driver wins",
			Run:   concurrentAccept,
		},

		// Load
		{
			Name:  "Perf: quote throughput",
			Focus: "sustained POST /api/quotes",
			Run: func(ctx context.Context, r *Runner) Result {
				return perfLoad(ctx, r, "/api/quotes", r.quotePayload("van"))
			},
		},
	}
}

// do sends one request as c and returns the status, body and latency.
func (r *Runner) do(ctx context.Context, method, path string, body any, c caller) (int, []byte, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, 0, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.id != "" {
		req.Header.Set("X-Caller-ID", c.id)
		req.Header.Set("X-Caller-Role", c.role)
	}
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, 0, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	return resp.StatusCode, data, time.Since(start), err
}

// expectJSON asserts the status and decodes the body into out when non-nil.
func (r *Runner) expectJSON(ctx context.Context, method, path string, body any, c caller, want int, out any) Result {
	status, data, latency, err := r.do(ctx, method, path, body, c)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	if status != want {
		return Result{Status: statusFail, Latency: latency, Note: fmt.Sprintf("status=%d want=%d body=%s", status, want, truncate(data))}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return Result{Status: statusFail, Latency: latency, Note: "decode: " + err.Error()}
		}
	}
	return Result{Status: statusPass, Latency: latency, Note: fmt.Sprintf("status=%d", status)}
}

func (r *Runner) expectReason(ctx context.Context, body any, reason string) Result {
	var out struct {
		Reason string `json:"reason"`
	}
	res := r.expectJSON(ctx, http.MethodPost, "/api/quotes", body, benchCustomer, http.StatusUnprocessableEntity, &out)
	if res.Status != statusPass {
		return res
	}
	if out.Reason != reason {
		return Result{Status: statusFail, Latency: res.Latency, Note: fmt.Sprintf("reason=%q want=%q", out.Reason, reason)}
	}
	return res
}

func statusCase(name, method, path string, body any, c caller, want int) TestCase {
	return TestCase{
		Name:  name,
		Focus: "HTTP API",
		Run: func(ctx context.Context, r *Runner) Result {
			return r.expectJSON(ctx, method, path, body, c, want, nil)
		},
	}
}

// reasonCase expects a 422 whose reason matches; the quote is never priced as zero.
func reasonCase(name, reason string, body func(r *Runner) map[string]any) TestCase {
	return TestCase{
		Name:  name,
		Focus: "Invalid quote reason",
		Run: func(ctx context.Context, r *Runner) Result {
			return r.expectReason(ctx, body(r), reason)
		},
	}
}

func (r *Runner) createOrder(ctx context.Context) (string, Result) {
	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	res := r.expectJSON(ctx, http.MethodPost, "/api/orders", r.quotePayload("light_van"), benchCustomer, http.StatusCreated, &out)
	if res.Status == statusPass && out.Status != "pending" {
		return "", Result{Status: statusFail, Note: "new order status " + out.Status}
	}
	return out.ID, res
}

func orderLifecycle(ctx context.Context, r *Runner) Result {
	start := time.Now()
	id, res := r.createOrder(ctx)
	if res.Status != statusPass {
		return res
	}
	for _, step := range []string{"accept", "pickup", "deliver"} {
		if res := r.expectJSON(ctx, http.MethodPost, "/api/drivers/orders/"+id+"/"+step, nil, benchDriver, http.StatusOK, nil); res.Status != statusPass {
			res.Note = step + ": " + res.Note
			return res
		}
	}
	var got struct {
		Status string `json:"status"`
	}
	if res := r.expectJSON(ctx, http.MethodGet, "/api/orders/"+id, nil, benchCustomer, http.StatusOK, &got); res.Status != statusPass {
		return res
	}
	if got.Status != "delivered" {
		return Result{Status: statusFail, Note: "final status " + got.Status}
	}
	if r.db != nil {
		var events int
		if err := r.db.QueryRow(ctx, "SELECT count(*) FROM order_events WHERE order_id=$1", id).Scan(&events); err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
		if events != 4 {
			return Result{Status: statusFail, Note: fmt.Sprintf("order_events=%d want=4", events)}
		}
	}
	return Result{Status: statusPass, Latency: time.Since(start), Note: "order=" + id}
}

func sessionFlow(ctx context.Context, r *Runner) Result {
	start := time.Now()
	var ev struct {
		SessionID string `json:"session_id"`
		State     string `json:"state"`
		Reason    string `json:"reason"`
	}
	if res := r.expectJSON(ctx, http.MethodPost, "/api/quote-sessions", nil, benchCustomer, http.StatusCreated, &ev); res.Status != statusPass {
		return res
	}
	path := "/api/quote-sessions/" + ev.SessionID
	defer func() {
		_, _, _, _ = r.do(context.Background(), http.MethodDelete, path, nil, benchCustomer)
	}()

	if res := r.expectJSON(ctx, http.MethodPut, path, r.quotePayload("light_van"), benchCustomer, http.StatusAccepted, &ev); res.Status != statusPass {
		return res
	}
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if res := r.expectJSON(ctx, http.MethodGet, path, nil, benchCustomer, http.StatusOK, &ev); res.Status != statusPass {
			return res
		}
		switch ev.State {
		case "ready":
			return Result{Status: statusPass, Latency: time.Since(start)}
		case "invalid", "failed":
			return Result{Status: statusFail, Note: ev.State + ": " + ev.Reason}
		}
		select {
		case <-ctx.Done():
			return Result{Status: statusFail, Note: ctx.Err().Error()}
		case <-time.After(100 * time.Millisecond):
		}
	}
	return Result{Status: statusFail, Note: "session never settled, last state " + ev.State}
}

func concurrentAccept(ctx context.Context, r *Runner) Result {
	id, res := r.createOrder(ctx)
	if res.Status != statusPass {
		return res
	}
	var wg sync.WaitGroup
	var succ, conflict int64
	gate := make(chan struct{})

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-gate
			d := caller{id: fmt.Sprintf("bench_driver_%d", i), role: "driver"}
			status, _, _, err := r.do(ctx, http.MethodPost, "/api/drivers/orders/"+id+"/accept", nil, d)
			if err != nil {
				return
			}
			switch {
			case status >= 200 && status < 300:
				atomic.AddInt64(&succ, 1)
			case status == http.StatusConflict:
				atomic.AddInt64(&conflict, 1)
			}
		}(i)
	}
	close(gate)
	wg.Wait()

	if succ == 1 {
		return Result{Status: statusPass, Note: fmt.Sprintf("success=1 conflict=%d", conflict)}
	}
	return Result{Status: statusFail, Note: fmt.Sprintf("success=%d conflict=%d", succ, conflict)}
}

func perfLoad(ctx context.Context, r *Runner, path string, payload any) Result {
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount int64
	var mu sync.Mutex
	var slowest time.Duration
	wg := sync.WaitGroup{}

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				status, _, latency, err := r.do(ctx, http.MethodPost, path, payload, benchCustomer)
				if err != nil || status >= 500 {
					atomic.AddInt64(&errCount, 1)
					continue
				}
				atomic.AddInt64(&count, 1)
				mu.Lock()
				if latency > slowest {
					slowest = latency
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if count == 0 {
		return Result{Status: statusFail, Note: fmt.Sprintf("no requests completed, errors=%d", errCount)}
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	return Result{Status: statusPass, Latency: slowest, Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount)}
}

func truncate(b []byte) string {
	const limit = 200
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
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
