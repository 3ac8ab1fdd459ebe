package util

import (
	"strconv"
	"testing"
)

func TestMap(t *testing.T) {
	got := Map([]int{1, 2, 3}, strconv.Itoa)
	if len(got) != 3 || got[0] != "1" || got[2] != "3" {
		t.Errorf("Map = %v", got)
	}
	if got := Map(nil, strconv.Itoa); len(got) != 0 {
		t.Errorf("Map(nil) = %v", got)
	}
}

func TestFilter(t *testing.T) {
	got := Filter([]int{1, 2, 3, 4}, func(v int) bool { return v%2 == 0 })
	if len(got) != 2 || got[0] != 2 || got[1] != 4 {
		t.Errorf("Filter = %v", got)
	}
	if got := Filter([]int{1}, func(int) bool { return false }); got != nil {
		t.Errorf("Filter = %v, want nil", got)
	}
}
