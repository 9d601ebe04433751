package job

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pithecene-io/pulse/provider"
)

// gatedProvider blocks ListRepos until released.
type gatedProvider struct {
	*provider.Stub
	entered chan struct{}
	release chan struct{}
}

func (g *gatedProvider) ListRepos(ctx context.Context, user string) ([]provider.Repo, error) {
	g.entered <- struct{}{}
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.Stub.ListRepos(ctx, user)
}

func TestTrigger_CoalescesConcurrentRuns(t *testing.T) {
	f := newFixture(t)
	gp := &gatedProvider{Stub: f.provider, entered: make(chan struct{}, 1), release: make(chan struct{})}
	j, err := New(Config{Store: f.store, Provider: gp, Clock: f.clock, Sleep: f.job.cfg.Sleep})
	if err != nil {
		t.Fatal(err)
	}
	trig := NewTrigger(j, f.cache)
	defer trig.Close()

	var (
		wg      sync.WaitGroup
		results [2]*Result
		shared  [2]bool
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], shared[0], _ = trig.Run(t.Context(), Options{})
	}()
	<-gp.entered
	if !trig.Running() {
		t.Fatal("expected run in flight")
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], shared[1], _ = trig.Run(t.Context(), Options{Force: true})
	}()
	deadline := time.Now().Add(5 * time.Second)
	for f.cache.InFlight(TriggerKey).Joiners() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("second caller never joined")
		}
		time.Sleep(time.Millisecond)
	}
	close(gp.release)
	wg.Wait()

	if results[0] != results[1] {
		t.Error("callers observed different results")
	}
	if shared[0] || !shared[1] {
		t.Errorf("shared = %v, want [false true]", shared)
	}
	if f.provider.ListCalls != 1 {
		t.Errorf("ListRepos ran %d times, want 1", f.provider.ListCalls)
	}
	if trig.Running() {
		t.Error("run still in flight after completion")
	}
}

func TestTrigger_CloseCancelsRun(t *testing.T) {
	f := newFixture(t)
	gp := &gatedProvider{Stub: f.provider, entered: make(chan struct{}, 1), release: make(chan struct{})}
	j, _ := New(Config{Store: f.store, Provider: gp, Clock: f.clock})
	trig := NewTrigger(j, f.cache)

	done := make(chan *Result, 1)
	go func() {
		res, _, _ := trig.Run(t.Context(), Options{})
		done <- res
	}()
	<-gp.entered
	trig.Close()

	select {
	case res := <-done:
		if res.Status != StatusFailed {
			t.Errorf("status = %s, want failed", res.Status)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after Close")
	}
	if f.store.LockClears != 1 {
		t.Error("lock not cleared after Close")
	}
}

func TestTrigger_OnFinishRunsOncePerExecution(t *testing.T) {
	f := newFixture(t)
	trig := NewTrigger(f.job, f.cache)
	defer trig.Close()

	var got []Status
	trig.OnFinish(func(res *Result) { got = append(got, res.Status) })

	if _, _, err := trig.Run(t.Context(), Options{}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, _, err := trig.Run(t.Context(), Options{}); err != nil {
		t.Fatalf("second run: %v", err)
	}
	want := []Status{StatusCompleted, StatusSkipped}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("hook saw %v, want %v", got, want)
	}
}
