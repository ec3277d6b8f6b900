package graph

import (
	"errors"
	"testing"
)

func TestResolveInputs_LiteralAndDirect(t *testing.T) {
	g := New()
	mustAdd(t, g, NewStage("src", testOp("src-op", nil, []string{"out"})))
	dst := NewStage("dst", testOp("dst-op", []string{"in", "ref"}, []string{"out"}))
	mustBind(t, dst, "ref", Scalar("/data/ref.nii"))
	mustAdd(t, g, dst)
	mustConnect(t, g, Connect("src", "out", "dst", "in"))

	produced := make(Outputs)
	produced.Set("src", map[string]Value{"out": Scalar("/work/src/out.nii")})

	bound, err := g.ResolveInputs(dst, produced)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := bound["in"].ScalarValue(); got != "/work/src/out.nii" {
		t.Fatalf("in = %q", got)
	}
	if got := bound["ref"].ScalarValue(); got != "/data/ref.nii" {
		t.Fatalf("ref = %q", got)
	}
}

func TestResolveInputs_SourceNotProduced(t *testing.T) {
	g := New()
	mustAdd(t, g, NewStage("src", testOp("src-op", nil, []string{"out"})))
	dst := NewStage("dst", testOp("dst-op", []string{"in"}, []string{"out"}))
	mustAdd(t, g, dst)
	mustConnect(t, g, Connect("src", "out", "dst", "in"))

	_, err := g.ResolveInputs(dst, make(Outputs))
	if !errors.Is(err, ErrOperation) {
		t.Fatalf("expected ErrOperation, got %v", err)
	}
}

func TestCombine_DirectRejectsList(t *testing.T) {
	_, err := combine(Connect("a", "out", "b", "in"), List("x", "y"))
	if !errors.Is(err, ErrFanOutArity) {
		t.Fatalf("expected ErrFanOutArity, got %v", err)
	}
}

func TestCombine_IndexSelect(t *testing.T) {
	src := List("w0", "w1", "w2")

	v, err := combine(ConnectIndex("a", "out", "b", "in", 0), src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.IsList() || v.ScalarValue() != "w0" {
		t.Fatalf("got %v, want scalar w0", v)
	}

	if _, err := combine(ConnectIndex("a", "out", "b", "in", 3), src); !errors.Is(err, ErrFanOutArity) {
		t.Fatalf("expected out-of-range error, got %v", err)
	}
	if _, err := combine(ConnectIndex("a", "out", "b", "in", 0), Scalar("x")); !errors.Is(err, ErrFanOutArity) {
		t.Fatalf("expected scalar-source error, got %v", err)
	}
}

func TestCombine_ZipRequiresList(t *testing.T) {
	if _, err := combine(ConnectZip("a", "out", "b", "in"), Scalar("x")); !errors.Is(err, ErrFanOutArity) {
		t.Fatalf("expected ErrFanOutArity, got %v", err)
	}
	v, err := combine(ConnectZip("a", "out", "b", "in"), List("x", "y"))
	if err != nil || !v.IsList() || v.Len() != 2 {
		t.Fatalf("got %v, %v", v, err)
	}
}

func TestCombine_CrossPromotesScalar(t *testing.T) {
	v, err := combine(ConnectCross("a", "out", "b", "in"), Scalar("shared"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.IsList() || v.Len() != 1 || v.Elem(0) != "shared" {
		t.Fatalf("got %v, want singleton list", v)
	}
}

func TestScalarInputs_RejectsList(t *testing.T) {
	s := NewStage("plain", testOp("op", []string{"in"}, []string{"out"}))
	_, err := ScalarInputs(s, map[string]Value{"in": List("x", "y")})
	if !errors.Is(err, ErrFanOutArity) {
		t.Fatalf("expected ErrFanOutArity, got %v", err)
	}
}
