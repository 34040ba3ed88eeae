package reactive

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/recera/livecanvas/pkg/scheduler"
)

func TestState_GetSet(t *testing.T) {
	loop := scheduler.NewLoop()
	state := NewState(42, loop)

	if got := state.Get(); got != 42 {
		t.Errorf("Expected initial value 42, got %d", got)
	}

	state.Set(100)
	if got := state.Get(); got != 100 {
		t.Errorf("Expected value 100 after Set, got %d", got)
	}
}

func TestState_Update(t *testing.T) {
	state := NewState(10, nil)

	state.Update(func(v int) int {
		return v * 2
	})

	if got := state.Get(); got != 20 {
		t.Errorf("Expected value 20 after Update, got %d", got)
	}
}

func TestState_MarksSubscribedJob(t *testing.T) {
	loop := scheduler.NewLoop()
	state := NewState("hello", loop)

	var runs atomic.Int32
	var seen atomic.Value
	job := loop.NewJob("render", func() {
		runs.Add(1)
		seen.Store(state.Get())
	})
	state.Subscribe(job)

	loop.Start()
	defer loop.Stop()

	state.Set("world")
	loop.Call(func() {})

	if runs.Load() != 1 {
		t.Errorf("Expected 1 run after state update, got %d", runs.Load())
	}
	if seen.Load() != "world" {
		t.Errorf("Expected job to see world, got %v", seen.Load())
	}
}

func TestState_ChangesInOneTaskCoalesce(t *testing.T) {
	loop := scheduler.NewLoop()
	a := NewState(1, loop)
	b := NewState(2, loop)
	c := NewState(3, loop)

	var runs atomic.Int32
	var sum atomic.Int32
	job := loop.NewJob("sum", func() {
		runs.Add(1)
		sum.Store(int32(a.Get() + b.Get() + c.Get()))
	})
	a.Subscribe(job)
	b.Subscribe(job)
	c.Subscribe(job)

	loop.Start()
	defer loop.Stop()

	loop.Call(func() {
		a.Set(10)
		b.Set(20)
		c.Set(30)
	})
	loop.Call(func() {})

	if runs.Load() != 1 {
		t.Errorf("Expected 1 run for 3 changes in one task, got %d", runs.Load())
	}
	if sum.Load() != 60 {
		t.Errorf("Expected sum 60, got %d", sum.Load())
	}
}

func TestState_ConcurrentAccess(t *testing.T) {
	loop := scheduler.NewLoop()
	state := NewState(0, loop)
	job := loop.NewJob("noop", func() {})
	state.Subscribe(job)
	loop.Start()
	defer loop.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func(val int) {
			defer wg.Done()
			state.Set(val)
		}(i)
		go func() {
			defer wg.Done()
			_ = state.Get()
		}()
	}
	wg.Wait()

	t.Log("Concurrent access completed without panic")
}

func TestState_WatchAndUnsubscribe(t *testing.T) {
	loop := scheduler.NewLoop()
	state := NewState("test", loop)
	job := loop.NewJob("render", func() {})

	state.Subscribe(job)
	var watched atomic.Int32
	stop := state.Watch(func() { watched.Add(1) })
	if state.Dependents() != 2 {
		t.Errorf("Expected 2 dependents, got %d", state.Dependents())
	}

	state.Set("x")
	if watched.Load() != 1 {
		t.Errorf("Expected watcher to run once, got %d", watched.Load())
	}

	state.Unsubscribe(job)
	stop()
	if state.Dependents() != 0 {
		t.Errorf("Expected 0 dependents, got %d", state.Dependents())
	}

	state.Set("y")
	if watched.Load() != 1 {
		t.Error("Stopped watcher still called")
	}
}

func TestState_NilJob(t *testing.T) {
	state := NewState(42, nil)

	// Should not panic
	state.Subscribe(nil)
	state.Unsubscribe(nil)
	state.Set(43)

	if state.Get() != 43 {
		t.Errorf("Expected value 43, got %d", state.Get())
	}
}

func TestComputed_FollowsSources(t *testing.T) {
	count := NewState(5, nil)
	double := NewComputed(func() int {
		return count.Get() * 2
	}, nil, count)

	if got := double.Get(); got != 10 {
		t.Errorf("Expected computed value 10, got %d", got)
	}

	count.Set(7)
	if got := double.Get(); got != 14 {
		t.Errorf("Expected computed value 14 after update, got %d", got)
	}
}

func TestComputed_Memoization(t *testing.T) {
	var computeCount atomic.Int32
	expensive := NewComputed(func() int {
		computeCount.Add(1)
		return 42
	}, nil)

	_ = expensive.Get()
	_ = expensive.Get()
	if computeCount.Load() != 1 {
		t.Errorf("Expected 1 computation (memoized), got %d", computeCount.Load())
	}

	expensive.Invalidate()
	_ = expensive.Get()
	if computeCount.Load() != 2 {
		t.Errorf("Expected 2 computations after invalidation, got %d", computeCount.Load())
	}
}

func TestComputed_ChainedDependencies(t *testing.T) {
	a := NewState(1, nil)
	b := NewComputed(func() int { return a.Get() + 1 }, nil, a)
	c := NewComputed(func() int { return b.Get() * 2 }, nil, b)

	if got := c.Get(); got != 4 {
		t.Errorf("Expected computed value 4, got %d", got)
	}

	a.Set(5)
	if got := c.Get(); got != 12 {
		t.Errorf("Expected computed value 12 after update, got %d", got)
	}
}

func TestComputed_MarksJobAndDispose(t *testing.T) {
	loop := scheduler.NewLoop()
	base := NewState(1, loop)

	var computeCount atomic.Int32
	derived := NewComputed(func() int {
		computeCount.Add(1)
		return base.Get() * 10
	}, loop, base)

	var runs atomic.Int32
	job := loop.NewJob("render", func() { runs.Add(1) })
	derived.Subscribe(job)

	loop.Start()
	defer loop.Stop()

	base.Set(2)
	loop.Call(func() {})
	if runs.Load() != 1 {
		t.Errorf("Expected 1 run, got %d", runs.Load())
	}
	if derived.Get() != 20 {
		t.Errorf("Expected 20, got %d", derived.Get())
	}

	derived.Dispose()
	base.Set(3)
	loop.Call(func() {})
	if derived.Get() != 20 {
		t.Error("Disposed computed value followed its source")
	}
	if base.Dependents() != 0 {
		t.Errorf("Expected source to have no dependents, got %d", base.Dependents())
	}
}

func BenchmarkState_Get(b *testing.B) {
	state := NewState(42, nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = state.Get()
	}
}

func BenchmarkState_Set(b *testing.B) {
	loop := scheduler.NewLoop()
	state := NewState(0, loop)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		state.Set(i)
	}
}

func BenchmarkComputed_Get(b *testing.B) {
	base := NewState(10, nil)
	computed := NewComputed(func() int {
		return base.Get() * 2
	}, nil, base)

	_ = computed.Get()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = computed.Get()
	}
}
