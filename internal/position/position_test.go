package position

import (
	"errors"
	"math/rand"
	"sort"
	"testing"

	"plate/api/internal/model"
)

type card struct {
	id     int
	pos    int
	parent string
}

func (c *card) Pos() int            { return c.pos }
func (c *card) SetPos(p int)        { c.pos = p }
func (c *card) SetParent(id string) { c.parent = id }

func cards(parent string, ids ...int) []*card {
	out := make([]*card, 0, len(ids))
	for i, id := range ids {
		out = append(out, &card{id: id, pos: i, parent: parent})
	}
	return out
}

func ids(list []*card) []int {
	out := make([]int, 0, len(list))
	for _, c := range list {
		out = append(out, c.id)
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestMoveWithinListForward(t *testing.T) {
	list := cards("h", 1, 2, 3)
	if err := MoveWithinList(list, 0, 2); err != nil {
		t.Fatalf("move: %v", err)
	}
	want := []card{{id: 2, pos: 0}, {id: 3, pos: 1}, {id: 1, pos: 2}}
	for i, w := range want {
		if list[i].id != w.id || list[i].pos != w.pos {
			t.Fatalf("index %d: expected {%d %d}, got {%d %d}", i, w.id, w.pos, list[i].id, list[i].pos)
		}
	}
}

func TestMoveWithinListBackward(t *testing.T) {
	list := cards("h", 1, 2, 3, 4, 5)
	if err := MoveWithinList(list, 3, 1); err != nil {
		t.Fatalf("move: %v", err)
	}
	if got := ids(list); !equalInts(got, []int{1, 4, 2, 3, 5}) {
		t.Fatalf("unexpected order %v", got)
	}
	if !Contiguous(list) {
		t.Fatalf("expected contiguous positions")
	}
}

func TestMoveWithinListSameIndex(t *testing.T) {
	list := cards("h", 1, 2, 3)
	if err := MoveWithinList(list, 1, 1); err != nil {
		t.Fatalf("move: %v", err)
	}
	if got := ids(list); !equalInts(got, []int{1, 2, 3}) {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestMoveWithinListInvalidIndex(t *testing.T) {
	cases := []struct {
		name     string
		old, new int
	}{
		{"negative old", -1, 0},
		{"old past end", 3, 0},
		{"negative new", 0, -1},
		{"new past end", 0, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			list := cards("h", 1, 2, 3)
			err := MoveWithinList(list, tc.old, tc.new)
			if !errors.Is(err, ErrInvalidIndex) {
				t.Fatalf("expected ErrInvalidIndex, got %v", err)
			}
			if got := ids(list); !equalInts(got, []int{1, 2, 3}) || !Contiguous(list) {
				t.Fatalf("list changed on error: %v", got)
			}
		})
	}
}

func TestMoveWithinListEmpty(t *testing.T) {
	var list []*card
	if err := MoveWithinList(list, 0, 0); !errors.Is(err, ErrInvalidIndex) {
		t.Fatalf("expected ErrInvalidIndex, got %v", err)
	}
}

func TestMoveAcrossLists(t *testing.T) {
	a := cards("A", 10, 11, 12)
	b := cards("B", 20, 21)

	a, b, err := MoveAcrossLists(a, b, 1, 0, "B")
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if got := ids(a); !equalInts(got, []int{10, 12}) {
		t.Fatalf("unexpected source %v", got)
	}
	if got := ids(b); !equalInts(got, []int{11, 20, 21}) {
		t.Fatalf("unexpected destination %v", got)
	}
	if !Contiguous(a) || !Contiguous(b) {
		t.Fatalf("expected contiguous positions, got %v / %v", a, b)
	}
	if b[0].parent != "B" {
		t.Fatalf("expected parent B, got %q", b[0].parent)
	}
}

func TestMoveAcrossListsAppend(t *testing.T) {
	a := cards("A", 1, 2)
	b := cards("B", 3, 4)
	a, b, err := MoveAcrossLists(a, b, 0, len(b), "B")
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if got := ids(b); !equalInts(got, []int{3, 4, 1}) {
		t.Fatalf("unexpected destination %v", got)
	}
	if b[2].pos != 2 || a[0].pos != 0 {
		t.Fatalf("unexpected positions src=%d dst=%d", a[0].pos, b[2].pos)
	}
}

func TestMoveAcrossListsIntoEmpty(t *testing.T) {
	a := cards("A", 1)
	var b []*card
	a, b, err := MoveAcrossLists(a, b, 0, 0, "B")
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if len(a) != 0 || len(b) != 1 || b[0].pos != 0 {
		t.Fatalf("unexpected result %v / %v", ids(a), ids(b))
	}
}

func TestMoveAcrossListsInvalidIndex(t *testing.T) {
	a := cards("A", 1, 2)
	b := cards("B", 3)

	if _, _, err := MoveAcrossLists(a, b, 2, 0, "B"); !errors.Is(err, ErrInvalidIndex) {
		t.Fatalf("expected ErrInvalidIndex for source, got %v", err)
	}
	if _, _, err := MoveAcrossLists(a, b, 0, 2, "B"); !errors.Is(err, ErrInvalidIndex) {
		t.Fatalf("expected ErrInvalidIndex for destination, got %v", err)
	}
	if got := ids(a); !equalInts(got, []int{1, 2}) || a[0].parent != "A" {
		t.Fatalf("source changed on error: %v", got)
	}
	if got := ids(b); !equalInts(got, []int{3}) {
		t.Fatalf("destination changed on error: %v", got)
	}
}

func TestInsertAndRemove(t *testing.T) {
	list := cards("h", 1, 2, 3)
	list, err := Insert(list, &card{id: 9}, 1)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if got := ids(list); !equalInts(got, []int{1, 9, 2, 3}) || !Contiguous(list) {
		t.Fatalf("unexpected after insert %v", got)
	}

	list, removed, err := Remove(list, 0)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if removed.id != 1 {
		t.Fatalf("expected removed id 1, got %d", removed.id)
	}
	if got := ids(list); !equalInts(got, []int{9, 2, 3}) || !Contiguous(list) {
		t.Fatalf("unexpected after remove %v", got)
	}

	if _, err := Insert(list, &card{id: 8}, 5); !errors.Is(err, ErrInvalidIndex) {
		t.Fatalf("expected ErrInvalidIndex, got %v", err)
	}
	if _, _, err := Remove(list, 3); !errors.Is(err, ErrInvalidIndex) {
		t.Fatalf("expected ErrInvalidIndex, got %v", err)
	}
}

func TestNormalize(t *testing.T) {
	list := []*card{{id: 1, pos: 4}, {id: 2, pos: 4}, {id: 3, pos: 9}}
	if Contiguous(list) {
		t.Fatalf("expected gaps to be detected")
	}
	Normalize(list)
	if !Contiguous(list) {
		t.Fatalf("expected contiguous after normalize")
	}
}

func TestWorksWithModelTypes(t *testing.T) {
	items := []*model.PlateItem{
		{ID: "a", HeaderID: "h1", Position: 0},
		{ID: "b", HeaderID: "h1", Position: 1},
	}
	var other []*model.PlateItem
	items, other, err := MoveAcrossLists(items, other, 0, 0, "h2")
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if other[0].HeaderID != "h2" || items[0].Position != 0 {
		t.Fatalf("unexpected result %+v %+v", other[0], items[0])
	}

	plates := []*model.Plate{{ID: "p1"}, {ID: "p2"}, {ID: "p3"}}
	Normalize(plates)
	if err := MoveWithinList(plates, 2, 0); err != nil {
		t.Fatalf("move plates: %v", err)
	}
	if plates[0].ID != "p3" || plates[0].ListPos != 0 || plates[2].ListPos != 2 {
		t.Fatalf("unexpected plates %+v", plates)
	}
}

func TestRandomMovesKeepPermutation(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 200; round++ {
		n := rng.Intn(8) + 1
		m := rng.Intn(5)
		src := cards("A", seq(0, n)...)
		dst := cards("B", seq(100, m)...)

		if rng.Intn(2) == 0 {
			if err := MoveWithinList(src, rng.Intn(n), rng.Intn(n)); err != nil {
				t.Fatalf("round %d: %v", round, err)
			}
		} else {
			var err error
			src, dst, err = MoveAcrossLists(src, dst, rng.Intn(n), rng.Intn(m+1), "B")
			if err != nil {
				t.Fatalf("round %d: %v", round, err)
			}
		}

		if !Contiguous(src) || !Contiguous(dst) {
			t.Fatalf("round %d: positions not contiguous", round)
		}
		all := append(ids(src), ids(dst)...)
		sort.Ints(all)
		want := append(seq(0, n), seq(100, m)...)
		sort.Ints(want)
		if !equalInts(all, want) {
			t.Fatalf("round %d: elements not conserved: %v vs %v", round, all, want)
		}
	}
}

func seq(start, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = start + i
	}
	return out
}
