// README: Concurrency tests for order state transitions (run with -race).
package order

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"sokuhai/internal/types"
)

func TestConcurrentAcceptVsCancel(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		svc := newTestService(repo, nil)
		o := mustCreateOrder(t, svc, "c_accept_cancel")

		var wg sync.WaitGroup
		errs := make(chan error, 2)

		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Accept(ctx, AcceptCommand{OrderID: o.ID, DriverID: "d1"})
			errs <- err
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Cancel(ctx, CancelCommand{OrderID: o.ID, ActorType: ActorCustomer, ActorID: "c_accept_cancel", Reason: "user_cancel"})
			errs <- err
		}()

		wg.Wait()
		close(errs)

		success := 0
		for err := range errs {
			if err == nil {
				success++
				continue
			}
			if err != ErrConflict && err != ErrInvalidState {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if success < 1 || success > 2 {
			t.Fatalf("expected 1 or 2 successes, got %d", success)
		}

		got, err := svc.Get(ctx, o.ID)
		if err != nil {
			t.Fatalf("get order: %v", err)
		}
		if success == 2 && got.Status != StatusCancelled {
			t.Fatalf("expected cancelled after accept+cancel, got %s", got.Status)
		}
		if success == 1 && got.Status != StatusAssigned && got.Status != StatusCancelled {
			t.Fatalf("unexpected final status: %s", got.Status)
		}
	})
}

func TestConcurrentAcceptSameOrder(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		svc := newTestService(repo, nil)
		o := mustCreateOrder(t, svc, "c_multi_accept")

		const attempts = 8
		var wg sync.WaitGroup
		start := make(chan struct{})
		errs := make(chan error, attempts)

		for i := 0; i < attempts; i++ {
			driverID := types.ID(fmt.Sprintf("d%d", i))
			wg.Add(1)
			go func(did types.ID) {
				defer wg.Done()
				<-start
				_, err := svc.Accept(ctx, AcceptCommand{OrderID: o.ID, DriverID: did})
				errs <- err
			}(driverID)
		}

		close(start)
		wg.Wait()
		close(errs)

		success := 0
		for err := range errs {
			if err == nil {
				success++
				continue
			}
			if err != ErrConflict && err != ErrInvalidState {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if success != 1 {
			t.Fatalf("expected exactly 1 success, got %d", success)
		}

		got, err := svc.Get(ctx, o.ID)
		if err != nil {
			t.Fatalf("get order: %v", err)
		}
		if got.Status != StatusAssigned {
			t.Fatalf("unexpected final status: %s", got.Status)
		}
		if got.DriverID == nil || *got.DriverID == "" {
			t.Fatalf("expected driver_id to be set")
		}
	})
}
