package events

import (
	"context"
	"errors"
	"testing"

	"pgregory.net/rapid"
)

// Feature: taskmaster, Property 1: Bus fan-out
// For N subscribers on one event type, a single emit invokes each exactly
// once, in subscription order, even when some subscribers fail.
func TestProperty_BusFanOut(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 20).Draw(rt, "n")
		failing := rapid.SliceOfN(rapid.Bool(), n, n).Draw(rt, "failing")

		bus := quietBus()
		var order []int
		for i := 0; i < n; i++ {
			i := i
			bus.Subscribe(TaskStatusChanged, func(context.Context, *Payload) error {
				order = append(order, i)
				if failing[i] {
					return errors.New("subscriber failure")
				}
				return nil
			})
		}

		ok, _ := bus.EmitAndWait(context.Background(), TaskStatusChanged, &Payload{})
		if !ok {
			rt.Fatal("expected subscribers to exist")
		}
		if len(order) != n {
			rt.Fatalf("expected %d invocations, got %d", n, len(order))
		}
		for i, got := range order {
			if got != i {
				rt.Fatalf("invocation %d went to subscriber %d", i, got)
			}
		}
	})
}

// Feature: taskmaster, Property 2: Unsubscribe idempotence
// Calling an unsubscribe function any number of times removes exactly one
// registration and the callback is never invoked afterwards.
func TestProperty_UnsubscribeIdempotent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 10).Draw(rt, "n")
		target := rapid.IntRange(0, n-1).Draw(rt, "target")
		repeats := rapid.IntRange(1, 5).Draw(rt, "repeats")

		bus := quietBus()
		calls := make([]int, n)
		unsubs := make([]func(), n)
		for i := 0; i < n; i++ {
			i := i
			unsubs[i] = bus.Subscribe(TaskCreated, func(context.Context, *Payload) error {
				calls[i]++
				return nil
			})
		}

		for r := 0; r < repeats; r++ {
			unsubs[target]()
		}

		_, _ = bus.EmitAndWait(context.Background(), TaskCreated, &Payload{})

		if got := bus.SubscriberCounts()[TaskCreated]; got != n-1 {
			rt.Fatalf("expected %d subscribers, got %d", n-1, got)
		}
		for i, c := range calls {
			want := 1
			if i == target {
				want = 0
			}
			if c != want {
				rt.Fatalf("subscriber %d called %d times, want %d", i, c, want)
			}
		}
	})
}
