package tree

import (
	"context"
	"testing"

	"github.com/ccoin/zams/pkg/types"
)

func TestAppendAndPath(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	ct := New(store)
	if err := ct.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	var leaves []types.Hash
	for i := 0; i < 8; i++ {
		var leaf types.Hash
		leaf[0] = byte(i + 1)
		leaves = append(leaves, leaf)
		pos, err := ct.Append(ctx, leaf)
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if pos != uint64(i) {
			t.Fatalf("append %d: got position %d", i, pos)
		}
	}

	root := ct.Root()
	for i, leaf := range leaves {
		w, err := ct.Path(ctx, uint64(i))
		if err != nil {
			t.Fatalf("path %d: %v", i, err)
		}
		if !Verify(leaf, w, root) {
			t.Fatalf("witness for leaf %d does not verify against root", i)
		}
	}
}

func TestWitnessRoundTrip(t *testing.T) {
	ctx := context.Background()
	ct := New(NewInMemoryStore())
	if err := ct.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	var leaf types.Hash
	leaf[0] = 0x42
	if _, err := ct.Append(ctx, leaf); err != nil {
		t.Fatalf("append: %v", err)
	}

	w, err := ct.Path(ctx, 0)
	if err != nil {
		t.Fatalf("path: %v", err)
	}
	data := w.Bytes()
	w2, err := WitnessFromBytes(Depth, data)
	if err != nil {
		t.Fatalf("from bytes: %v", err)
	}
	if w2.LeafPosition != w.LeafPosition {
		t.Errorf("leaf position mismatch: got %d want %d", w2.LeafPosition, w.LeafPosition)
	}
	if !Verify(leaf, w2, ct.Root()) {
		t.Errorf("round-tripped witness does not verify")
	}
}

func TestAppendRespectsDepthLimit(t *testing.T) {
	ctx := context.Background()
	ct := New(NewInMemoryStore())
	ct.depth = 2 // shrink for test speed: max 4 leaves
	if err := ct.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	for i := 0; i < 4; i++ {
		if _, err := ct.Append(ctx, types.Hash{byte(i)}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if _, err := ct.Append(ctx, types.Hash{0xff}); err != ErrTreeFull {
		t.Fatalf("expected ErrTreeFull, got %v", err)
	}
}
