// README: Order service tests (flow + invalid requests).
package order

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"

	"sokuhai/internal/maps"
	"sokuhai/internal/modules/pricing"
	"sokuhai/internal/types"
)

var (
	marunouchi = types.Point{Lat: 35.6812, Lng: 139.7671}
	shinjuku   = types.Point{Lat: 35.6896, Lng: 139.6917}
)

type stubRoutes struct {
	err error
}

func (s stubRoutes) GetDistance(_ context.Context, _, _ string) (maps.Route, error) {
	if s.err != nil {
		return maps.Route{}, s.err
	}
	return maps.Route{DistanceKm: 10, DurationMinutes: 28, Origin: marunouchi, Destination: shinjuku}, nil
}

type stubDispatcher struct {
	mu         sync.Mutex
	dispatched map[types.ID]types.Point
	notified   map[types.ID][]types.ID
}

func newStubDispatcher() *stubDispatcher {
	return &stubDispatcher{
		dispatched: make(map[types.ID]types.Point),
		notified:   make(map[types.ID][]types.ID),
	}
}

func (d *stubDispatcher) Dispatch(_ context.Context, orderID types.ID, pickup types.Point) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dispatched[orderID] = pickup
	return nil
}

func (d *stubDispatcher) NotifiedOrders(_ context.Context, driverID types.ID) ([]types.ID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.notified[driverID], nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ *Order, e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func newTestService(repo Repository, routeErr error) *Service {
	quoter := pricing.NewService(
		pricing.NewMemoryTariffStore(pricing.DefaultTariffs()...),
		stubRoutes{err: routeErr},
		pricing.Calculator{Strict: true},
	)
	return NewService(repo, quoter, nil, nil)
}

// forEachRepository runs fn against the in-memory store and, when
// SOKUHAI_TEST_DSN is set, against PostgreSQL.
func forEachRepository(t *testing.T, fn func(t *testing.T, repo Repository)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
	t.Run("postgres", func(t *testing.T) { fn(t, setupTestStore(t)) })
}

// TestCanTransition verifies the state machine transition table without a database.
func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		// forward
		{StatusPending, StatusAssigned, true},
		{StatusAssigned, StatusPickedUp, true},
		{StatusPickedUp, StatusDelivered, true},
		// release and cancel
		{StatusAssigned, StatusPending, true},
		{StatusPending, StatusCancelled, true},
		{StatusAssigned, StatusCancelled, true},
		// terminal states
		{StatusDelivered, StatusPending, false},
		{StatusCancelled, StatusPending, false},
		// skipping or reversing
		{StatusPending, StatusPickedUp, false},
		{StatusPending, StatusDelivered, false},
		{StatusPickedUp, StatusCancelled, false},
		{StatusPickedUp, StatusAssigned, false},
	}
	for _, tc := range cases {
		got := CanTransition(tc.from, tc.to)
		if got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestOrderFlowHappyPath(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo Repository) {
		svc := newTestService(repo, nil)
		ctx := context.Background()

		o := mustCreateOrder(t, svc, "c_happy")
		if o.Fare.TotalCustomerPrice != 7150 || o.Fare.CompanyRevenue != 1300 || o.Fare.DriverRevenue != 5200 {
			t.Fatalf("unexpected fare: %+v", o.Fare)
		}
		if o.Pickup != marunouchi || o.DistanceKm != 10 {
			t.Fatalf("route not stored: %+v", o)
		}
		assertStatus(t, svc, o.ID, StatusPending)

		if _, err := svc.Accept(ctx, AcceptCommand{OrderID: o.ID, DriverID: "d1"}); err != nil {
			t.Fatalf("accept: %v", err)
		}
		assertStatus(t, svc, o.ID, StatusAssigned)

		if _, err := svc.PickUp(ctx, PickUpCommand{OrderID: o.ID, DriverID: "d1"}); err != nil {
			t.Fatalf("pickup: %v", err)
		}
		assertStatus(t, svc, o.ID, StatusPickedUp)

		delivered, err := svc.Deliver(ctx, DeliverCommand{OrderID: o.ID, DriverID: "d1"})
		if err != nil {
			t.Fatalf("deliver: %v", err)
		}
		if delivered.Status != StatusDelivered || delivered.StatusVersion != 3 || delivered.DeliveredAt == nil {
			t.Fatalf("unexpected delivered order: %+v", delivered)
		}

		stored, err := svc.Get(ctx, o.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if stored.Fare != o.Fare {
			t.Fatalf("fare changed after delivery: %+v != %+v", stored.Fare, o.Fare)
		}
		if stored.DriverID == nil || *stored.DriverID != "d1" {
			t.Fatalf("expected driver d1, got %v", stored.DriverID)
		}
	})
}

func TestOrderEventsRecordedAndPublished(t *testing.T) {
	repo := NewMemoryStore()
	pub := &recordingPublisher{}
	svc := newTestService(repo, nil)
	svc.events = pub
	ctx := context.Background()

	o := mustCreateOrder(t, svc, "c_events")
	if _, err := svc.Accept(ctx, AcceptCommand{OrderID: o.ID, DriverID: "d1"}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := svc.Cancel(ctx, CancelCommand{OrderID: o.ID, ActorType: ActorCustomer, ActorID: "c_events", Reason: "changed plans"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	stored := repo.Events(o.ID)
	want := []Status{StatusPending, StatusAssigned, StatusCancelled}
	if len(stored) != len(want) || len(pub.events) != len(want) {
		t.Fatalf("expected %d events, got stored=%d published=%d", len(want), len(stored), len(pub.events))
	}
	for i, e := range stored {
		if e.ToStatus != want[i] || pub.events[i].ToStatus != want[i] {
			t.Errorf("event %d: to=%s published=%s, want %s", i, e.ToStatus, pub.events[i].ToStatus, want[i])
		}
	}
	if stored[0].FromStatus != StatusNone || stored[2].FromStatus != StatusAssigned {
		t.Errorf("unexpected from statuses: %+v", stored)
	}

	got, _ := svc.Get(ctx, o.ID)
	if got.CancelReason == nil || *got.CancelReason != "changed plans" {
		t.Fatalf("cancel reason not stored: %v", got.CancelReason)
	}
}

func TestCreateRejectsInvalidQuote(t *testing.T) {
	repo := NewMemoryStore()
	svc := newTestService(repo, nil)

	_, err := svc.Create(context.Background(), CreateCommand{
		CustomerID: "c_invalid",
		Request:    pricing.QuoteRequest{Origin: "丸の内", Destination: "新宿", VehicleClass: "rocket", Flow: pricing.FlowManual},
	})
	if !errors.Is(err, pricing.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if orders, _ := repo.List(context.Background(), ListFilter{}); len(orders) != 0 {
		t.Fatalf("invalid quote must not create an order, got %d", len(orders))
	}
}

func TestCreateRejectsRouteFailure(t *testing.T) {
	repo := NewMemoryStore()
	svc := newTestService(repo, maps.ErrProviderUnavailable)

	_, err := svc.Create(context.Background(), CreateCommand{CustomerID: "c_route", Request: manualRequest()})
	if !errors.Is(err, maps.ErrProviderUnavailable) {
		t.Fatalf("expected provider unavailable, got %v", err)
	}
	if orders, _ := repo.List(context.Background(), ListFilter{}); len(orders) != 0 {
		t.Fatalf("failed lookup must not create an order, got %d", len(orders))
	}
}

func TestCreateRequiresCustomer(t *testing.T) {
	svc := newTestService(NewMemoryStore(), nil)
	if _, err := svc.Create(context.Background(), CreateCommand{Request: manualRequest()}); err != ErrBadRequest {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
}

func TestCreateDispatchesFromPickup(t *testing.T) {
	svc := newTestService(NewMemoryStore(), nil)
	d := newStubDispatcher()
	svc.SetDispatcher(d)

	o := mustCreateOrder(t, svc, "c_dispatch")
	if got, ok := d.dispatched[o.ID]; !ok || got != marunouchi {
		t.Fatalf("expected dispatch at %v, got %v (ok=%v)", marunouchi, got, ok)
	}
}

func TestListOffered(t *testing.T) {
	svc := newTestService(NewMemoryStore(), nil)
	d := newStubDispatcher()
	svc.SetDispatcher(d)
	ctx := context.Background()

	a := mustCreateOrder(t, svc, "c_a")
	b := mustCreateOrder(t, svc, "c_b")
	mustCreateOrder(t, svc, "c_c")
	d.notified["d1"] = []types.ID{a.ID, b.ID}

	if _, err := svc.Accept(ctx, AcceptCommand{OrderID: b.ID, DriverID: "d2"}); err != nil {
		t.Fatalf("accept: %v", err)
	}

	offered, err := svc.ListOffered(ctx, "d1")
	if err != nil {
		t.Fatalf("list offered: %v", err)
	}
	if len(offered) != 1 || offered[0].ID != a.ID {
		t.Fatalf("expected only %s to be offered, got %+v", a.ID, offered)
	}

	none, err := svc.ListOffered(ctx, "d_unknown")
	if err != nil || len(none) != 0 {
		t.Fatalf("expected no offers, got %v %v", none, err)
	}
}

func TestOfferedTo(t *testing.T) {
	svc := newTestService(NewMemoryStore(), nil)
	ctx := context.Background()

	a := mustCreateOrder(t, svc, "c_a")
	if ok, err := svc.OfferedTo(ctx, a, "d1"); err != nil || ok {
		t.Fatalf("without a dispatcher: got %v %v, want false", ok, err)
	}

	d := newStubDispatcher()
	svc.SetDispatcher(d)
	d.notified["d1"] = []types.ID{a.ID}

	tests := []struct {
		name   string
		driver types.ID
		want   bool
	}{
		{"notified driver", "d1", true},
		{"other driver", "d2", false},
		{"blank driver", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.OfferedTo(ctx, a, tt.driver)
			if err != nil {
				t.Fatalf("offered to: %v", err)
			}
			if got != tt.want {
				t.Errorf("OfferedTo(%q) = %v, want %v", tt.driver, got, tt.want)
			}
		})
	}

	accepted, err := svc.Accept(ctx, AcceptCommand{OrderID: a.ID, DriverID: "d2"})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if ok, _ := svc.OfferedTo(ctx, accepted, "d1"); ok {
		t.Errorf("accepted order should no longer count as offered")
	}
}

func TestOrderFlowCancelPending(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo Repository) {
		svc := newTestService(repo, nil)
		ctx := context.Background()

		o := mustCreateOrder(t, svc, "c_cancel_pending")
		if _, err := svc.Cancel(ctx, CancelCommand{OrderID: o.ID, ActorType: ActorCustomer, ActorID: "someone_else"}); err != ErrForbidden {
			t.Fatalf("cancel by another customer: expected ErrForbidden, got %v", err)
		}
		if _, err := svc.Cancel(ctx, CancelCommand{OrderID: o.ID, ActorType: ActorCustomer, ActorID: "c_cancel_pending", Reason: "user_cancel"}); err != nil {
			t.Fatalf("cancel: %v", err)
		}
		assertStatus(t, svc, o.ID, StatusCancelled)

		if _, err := svc.Accept(ctx, AcceptCommand{OrderID: o.ID, DriverID: "d1"}); err != ErrInvalidState {
			t.Fatalf("accept after cancel: expected ErrInvalidState, got %v", err)
		}
	})
}

func TestOrderFlowRelease(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo Repository) {
		svc := newTestService(repo, nil)
		ctx := context.Background()

		o := mustCreateOrder(t, svc, "c_release")
		if _, err := svc.Accept(ctx, AcceptCommand{OrderID: o.ID, DriverID: "d1"}); err != nil {
			t.Fatalf("accept: %v", err)
		}
		if _, err := svc.Release(ctx, ReleaseCommand{OrderID: o.ID, DriverID: "d2"}); err != ErrForbidden {
			t.Fatalf("release by other driver: expected ErrForbidden, got %v", err)
		}
		if _, err := svc.Release(ctx, ReleaseCommand{OrderID: o.ID, DriverID: "d1"}); err != nil {
			t.Fatalf("release: %v", err)
		}

		released, err := svc.Get(ctx, o.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if released.Status != StatusPending || released.DriverID != nil || released.AssignedAt != nil {
			t.Fatalf("expected pending order without driver, got %+v", released)
		}

		if _, err := svc.Accept(ctx, AcceptCommand{OrderID: o.ID, DriverID: "d2"}); err != nil {
			t.Fatalf("re-accept: %v", err)
		}
		assertStatus(t, svc, o.ID, StatusAssigned)
	})
}

func TestOrderInvalidTransitions(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo Repository) {
		svc := newTestService(repo, nil)
		ctx := context.Background()

		o := mustCreateOrder(t, svc, "c_invalid")

		if _, err := svc.PickUp(ctx, PickUpCommand{OrderID: o.ID, DriverID: "d1"}); err != ErrForbidden {
			t.Fatalf("pickup before accept: expected ErrForbidden, got %v", err)
		}
		if _, err := svc.Accept(ctx, AcceptCommand{OrderID: o.ID, DriverID: "d1"}); err != nil {
			t.Fatalf("accept: %v", err)
		}
		if _, err := svc.Deliver(ctx, DeliverCommand{OrderID: o.ID, DriverID: "d1"}); err != ErrInvalidState {
			t.Fatalf("deliver before pickup: expected ErrInvalidState, got %v", err)
		}
		if _, err := svc.PickUp(ctx, PickUpCommand{OrderID: o.ID, DriverID: "d2"}); err != ErrForbidden {
			t.Fatalf("pickup by other driver: expected ErrForbidden, got %v", err)
		}
		if _, err := svc.PickUp(ctx, PickUpCommand{OrderID: o.ID, DriverID: "d1"}); err != nil {
			t.Fatalf("pickup: %v", err)
		}
		if _, err := svc.Cancel(ctx, CancelCommand{OrderID: o.ID, ActorType: ActorAdmin}); err != ErrInvalidState {
			t.Fatalf("cancel after pickup: expected ErrInvalidState, got %v", err)
		}
		if _, err := svc.Cancel(ctx, CancelCommand{OrderID: o.ID, ActorType: "stranger"}); err != ErrBadRequest {
			t.Fatalf("cancel by unknown actor: expected ErrBadRequest, got %v", err)
		}
		if _, err := svc.Get(ctx, "missing"); err != ErrNotFound {
			t.Fatalf("get missing: expected ErrNotFound, got %v", err)
		}
	})
}

func TestRevenue(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo Repository) {
		svc := newTestService(repo, nil)
		ctx := context.Background()

		for _, customer := range []types.ID{"c_r1", "c_r2"} {
			o := mustCreateOrder(t, svc, customer)
			mustDeliver(t, svc, o.ID, "d1")
		}
		cancelled := mustCreateOrder(t, svc, "c_r3")
		if _, err := svc.Cancel(ctx, CancelCommand{OrderID: cancelled.ID, ActorType: ActorAdmin}); err != nil {
			t.Fatalf("cancel: %v", err)
		}

		sum, err := svc.Revenue(ctx)
		if err != nil {
			t.Fatalf("revenue: %v", err)
		}
		if sum.Orders != 2 {
			t.Fatalf("expected 2 delivered orders, got %d", sum.Orders)
		}
		if sum.CustomerTotal != types.Yen(14300) || sum.TaxTotal != types.Yen(1300) {
			t.Errorf("unexpected customer totals: %+v", sum)
		}
		if sum.CompanyRevenue != types.Yen(2600) || sum.DriverRevenue != types.Yen(10400) {
			t.Errorf("unexpected split: %+v", sum)
		}
	})
}

type capturingWriter struct {
	msgs []kafka.Message
}

func (w *capturingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestKafkaPublisherKeysByOrder(t *testing.T) {
	w := &capturingWriter{}
	pub := &KafkaPublisher{w: w}
	driver := types.ID("d1")
	o := &Order{ID: "01HZY", CustomerID: "c1", DriverID: &driver, VehicleClass: "van"}
	o.Fare.TotalCustomerPrice = 8800

	if err := pub.Publish(context.Background(), o, Event{OrderID: o.ID, FromStatus: StatusPending, ToStatus: StatusAssigned, ActorType: ActorDriver}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "01HZY" {
		t.Fatalf("unexpected messages: %+v", w.msgs)
	}

	var got map[string]any
	if err := json.Unmarshal(w.msgs[0].Value, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["to_status"] != "assigned" || got["driver_id"] != "d1" || got["total_customer_price"] != float64(8800) {
		t.Fatalf("unexpected payload: %v", got)
	}
}

func manualRequest() pricing.QuoteRequest {
	return pricing.QuoteRequest{
		Origin:       "東京都千代田区丸の内1-9-1",
		Destination:  "東京都新宿区西新宿2-8-1",
		VehicleClass: "light_van",
		Flow:         pricing.FlowManual,
	}
}

func mustCreateOrder(t *testing.T, svc *Service, customerID types.ID) *Order {
	t.Helper()
	o, err := svc.Create(context.Background(), CreateCommand{CustomerID: customerID, Request: manualRequest()})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

func mustDeliver(t *testing.T, svc *Service, orderID, driverID types.ID) {
	t.Helper()
	ctx := context.Background()
	if _, err := svc.Accept(ctx, AcceptCommand{OrderID: orderID, DriverID: driverID}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := svc.PickUp(ctx, PickUpCommand{OrderID: orderID, DriverID: driverID}); err != nil {
		t.Fatalf("pickup: %v", err)
	}
	if _, err := svc.Deliver(ctx, DeliverCommand{OrderID: orderID, DriverID: driverID}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
}

func assertStatus(t *testing.T, svc *Service, orderID types.ID, want Status) {
	t.Helper()
	o, err := svc.Get(context.Background(), orderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if o.Status != want {
		t.Fatalf("expected status %s, got %s", want, o.Status)
	}
}

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("SOKUHAI_TEST_DSN")
	if dsn == "" {
		t.Skip("SOKUHAI_TEST_DSN not set; skipping PostgreSQL-backed order tests")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := applyMigration(ctx, db); err != nil {
		t.Fatalf("apply migration: %v", err)
	}

	if _, err := db.Exec(ctx, "TRUNCATE TABLE order_events, orders"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}

	return NewStore(db)
}

func applyMigration(ctx context.Context, db *pgxpool.Pool) error {
	root, err := repoRoot()
	if err != nil {
		return err
	}
	path := filepath.Join(root, "migrations", "0001_init.sql")
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	cleaned := stripSQLComments(string(content))
	for _, stmt := range splitSQL(cleaned) {
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

func stripSQLComments(input string) string {
	var b strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(input))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		b.WriteString(scanner.Text())
		b.WriteString("\n")
	}
	return b.String()
}

func splitSQL(input string) []string {
	parts := strings.Split(input, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		stmt := strings.TrimSpace(p)
		if stmt == "" {
			continue
		}
		out = append(out, stmt)
	}
	return out
}
