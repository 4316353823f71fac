package ordering

import "testing"

func intPtr(v int) *int { return &v }

func TestInsertPosition(t *testing.T) {
	cases := []struct {
		name    string
		max     int
		sibling *int
		want    int
	}{
		{name: "append to empty", max: 0, sibling: nil, want: 1},
		{name: "append after three", max: 3, sibling: nil, want: 4},
		{name: "after first of three", max: 3, sibling: intPtr(1), want: 2},
		{name: "after last", max: 3, sibling: intPtr(3), want: 4},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := InsertPosition(tc.max, tc.sibling); got != tc.want {
				t.Fatalf("InsertPosition(%d, %v) = %d, want %d", tc.max, tc.sibling, got, tc.want)
			}
		})
	}
}

func TestSameIDSet(t *testing.T) {
	cases := []struct {
		name     string
		existing []string
		proposed []string
		want     bool
	}{
		{name: "same order", existing: []string{"a", "b", "c"}, proposed: []string{"a", "b", "c"}, want: true},
		{name: "permutation", existing: []string{"a", "b", "c"}, proposed: []string{"c", "a", "b"}, want: true},
		{name: "missing item", existing: []string{"a", "b", "c"}, proposed: []string{"a", "b"}, want: false},
		{name: "foreign id", existing: []string{"a", "b", "c"}, proposed: []string{"a", "b", "x"}, want: false},
		{name: "duplicate in proposal", existing: []string{"a", "b", "c"}, proposed: []string{"a", "b", "b"}, want: false},
		{name: "extra item", existing: []string{"a", "b"}, proposed: []string{"a", "b", "c"}, want: false},
		{name: "both empty", existing: nil, proposed: nil, want: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SameIDSet(tc.existing, tc.proposed); got != tc.want {
				t.Fatalf("SameIDSet(%v, %v) = %v, want %v", tc.existing, tc.proposed, got, tc.want)
			}
		})
	}
}

func TestRenumber(t *testing.T) {
	positions := Renumber([]string{"c", "a", "b"})
	want := map[string]int{"c": 1, "a": 2, "b": 3}
	for id, pos := range want {
		if positions[id] != pos {
			t.Fatalf("Renumber: %s = %d, want %d", id, positions[id], pos)
		}
	}
}

func TestIsDense(t *testing.T) {
	cases := []struct {
		name      string
		positions []int
		want      bool
	}{
		{name: "dense", positions: []int{2, 1, 3}, want: true},
		{name: "gap", positions: []int{1, 3, 4}, want: false},
		{name: "duplicate", positions: []int{1, 2, 2}, want: false},
		{name: "zero based", positions: []int{0, 1, 2}, want: false},
		{name: "empty", positions: nil, want: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsDense(tc.positions); got != tc.want {
				t.Fatalf("IsDense(%v) = %v, want %v", tc.positions, got, tc.want)
			}
		})
	}
}
