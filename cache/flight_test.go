package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// waitFor polls cond until it holds or the test deadline approaches.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestJoin_LeaderElection(t *testing.T) {
	s := New(nil)
	f1, leader1 := s.Join("k")
	f2, leader2 := s.Join("k")
	if !leader1 || leader2 {
		t.Fatalf("leader flags = %v/%v, want true/false", leader1, leader2)
	}
	if f1 != f2 {
		t.Fatal("joiners should share the leader's flight")
	}
	if f1.Joiners() != 1 {
		t.Errorf("Joiners() = %d, want 1", f1.Joiners())
	}

	s.ClearInFlight("k")
	if s.InFlight("k") != nil {
		t.Error("ClearInFlight did not remove flight")
	}
	if _, leader := s.Join("k"); !leader {
		t.Error("expected new leader after clear")
	}
}

func TestCoalesce_SingleComputation(t *testing.T) {
	s := New(nil)
	const callers = 16

	var calls atomic.Int32
	release := make(chan struct{})
	fn := func(ctx context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 42, nil
	}

	var wg sync.WaitGroup
	results := make([]int, callers)
	errs := make([]error, callers)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _, errs[0] = Coalesce(t.Context(), s, "k", fn)
	}()
	waitFor(t, func() bool { return s.InFlight("k") != nil })
	f := s.InFlight("k")

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _, errs[i] = Coalesce(t.Context(), s, "k", fn)
		}()
	}
	waitFor(t, func() bool { return f.Joiners() == callers-1 })
	close(release)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Errorf("computation ran %d times, want 1", n)
	}
	for i := range callers {
		if errs[i] != nil || results[i] != 42 {
			t.Errorf("caller %d got (%d, %v)", i, results[i], errs[i])
		}
	}
	if s.InFlight("k") != nil {
		t.Error("flight not cleared after completion")
	}
}

func TestCoalesce_ErrorSharedAndCleared(t *testing.T) {
	s := New(nil)
	boom := errors.New("boom")
	_, _, err := Coalesce(t.Context(), s, "k", func(context.Context) (int, error) {
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if s.InFlight("k") != nil {
		t.Fatal("flight not cleared after failure")
	}

	v, _, err := Coalesce(t.Context(), s, "k", func(context.Context) (int, error) {
		return 7, nil
	})
	if err != nil || v != 7 {
		t.Errorf("retry got (%d, %v)", v, err)
	}
}

func TestCoalesce_PanicClearsFlight(t *testing.T) {
	s := New(nil)
	_, _, err := Coalesce(t.Context(), s, "k", func(context.Context) (int, error) {
		panic("kaboom")
	})
	if err == nil {
		t.Fatal("expected error from panicking computation")
	}
	if s.InFlight("k") != nil {
		t.Error("flight not cleared after panic")
	}
}

func TestCoalesce_CallerCancelDoesNotAbortComputation(t *testing.T) {
	s := New(nil)
	release := make(chan struct{})
	finished := make(chan struct{})

	ctx, cancel := context.WithCancel(t.Context())
	go func() {
		_, _, _ = Coalesce(ctx, s, "k", func(ctx context.Context) (int, error) {
			<-release
			close(finished)
			return 1, ctx.Err()
		})
	}()
	waitFor(t, func() bool { return s.InFlight("k") != nil })
	cancel()
	close(release)

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("computation did not finish")
	}
	waitFor(t, func() bool { return s.InFlight("k") == nil })
}

func TestFlight_WaitContext(t *testing.T) {
	f := NewFlight()
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if _, err := f.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait err = %v, want context.Canceled", err)
	}

	f.Resolve("a", nil)
	f.Resolve("b", nil)
	v, err := f.Wait(t.Context())
	if err != nil || v != "a" {
		t.Errorf("Wait = (%v, %v), want first resolution", v, err)
	}
}
