package rating

import (
	"math"
	"testing"
)

func TestExpectSymmetric(t *testing.T) {
	ea, eb := Expect(1500, 1500)
	if ea != 0.5 || eb != 0.5 {
		t.Fatalf("equal ratings should expect 0.5, got %v %v", ea, eb)
	}
	ea, eb = Expect(1900, 1500)
	if ea <= 0.9 || math.Abs(ea+eb-1) > 1e-12 {
		t.Fatalf("unexpected expectation %v %v", ea, eb)
	}
}

func TestUpdateZeroSum(t *testing.T) {
	e := NewElo(1500, 24)
	w, l, d := e.Update(1500, 1500, 0)
	if d != 12 {
		t.Fatalf("expected delta 12 for even match, got %v", d)
	}
	if w != 1512 || l != 1488 {
		t.Fatalf("unexpected ratings %v %v", w, l)
	}
}

func TestUpdateSeedsAndUpsets(t *testing.T) {
	e := NewElo(0, 0)
	if e.Start != 1500 || e.K != 24 {
		t.Fatalf("defaults not applied: %+v", e)
	}
	_, _, favourite := e.Update(1800, 1400, 0)
	_, _, upset := e.Update(1400, 1800, 0)
	if upset <= favourite {
		t.Fatalf("upset should move more than favourite win: %v <= %v", upset, favourite)
	}
	w, _, _ := e.Update(0, 1500, 0)
	if w <= 1500 {
		t.Fatalf("unset rating should be seeded then increased, got %v", w)
	}
	_, _, late := e.Update(1500, 1500, 100)
	if late >= 12 {
		t.Fatalf("K should anneal with games, got %v", late)
	}
}
