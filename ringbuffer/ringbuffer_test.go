package ringbuffer

import (
	"reflect"
	"testing"
)

func TestPushEvictsOldest(t *testing.T) {
	rb := New[int](3)
	for i := 1; i <= 5; i++ {
		rb.Push(i)
	}
	if rb.Len() != 3 {
		t.Fatalf("expected len 3, got %d", rb.Len())
	}
	got := rb.All()
	want := []int{3, 4, 5}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v want %v", got, want)
	}
}

func TestTailOrder(t *testing.T) {
	rb := New[string](10)
	rb.PushAll([]string{"a", "b", "c", "d"})
	got := rb.Tail(2)
	want := []string{"c", "d"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v want %v", got, want)
	}
}

func TestTailMoreThanLen(t *testing.T) {
	rb := New[int](10)
	rb.PushAll([]int{1, 2})
	got := rb.Tail(100)
	if !reflect.DeepEqual(got, []int{1, 2}) {
		t.Errorf("got %v", got)
	}
}

func TestDefaultCapacity(t *testing.T) {
	rb := New[int](0)
	if rb.Capacity() != DefaultCapacity {
		t.Errorf("expected default capacity %d, got %d", DefaultCapacity, rb.Capacity())
	}
}

func TestNeverExceedsCapacity(t *testing.T) {
	rb := New[int](5)
	for i := 0; i < 1000; i++ {
		rb.Push(i)
		if rb.Len() > 5 {
			t.Fatalf("ring buffer exceeded capacity: len=%d", rb.Len())
		}
	}
}
