package routing

import (
	"fmt"
	"testing"
)

func TestEmptyRing(t *testing.T) {
	if n := NewNodeRing(0).GetNode("C"); n != "" {
		t.Fatalf("empty ring: want=\"\" got=%q", n)
	}
}

func TestGetNodeIsStableAndOrderIndependent(t *testing.T) {
	a := NewNodeRing(50, "node-a", "node-b", "node-c")
	b := NewNodeRing(50, "node-c", "node-a", "node-b")
	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("canvas-%d", i)
		if a.GetNode(key) != b.GetNode(key) {
			t.Fatalf("%s: want=%s got=%s", key, a.GetNode(key), b.GetNode(key))
		}
	}
}

func TestRemoveNodeOnlyMovesItsKeys(t *testing.T) {
	r := NewNodeRing(100, "node-a", "node-b", "node-c")
	before := make(map[string]string)
	for i := 0; i < 500; i++ {
		key := fmt.Sprintf("canvas-%d", i)
		before[key] = r.GetNode(key)
	}

	r.RemoveNode("node-b")
	r.RemoveNode("node-b")
	for key, was := range before {
		now := r.GetNode(key)
		if now == "node-b" {
			t.Fatalf("%s still on removed node", key)
		}
		if was != "node-b" && now != was {
			t.Fatalf("%s moved: want=%s got=%s", key, was, now)
		}
	}
	if nodes := r.Nodes(); len(nodes) != 2 || nodes[0] != "node-a" || nodes[1] != "node-c" {
		t.Fatalf("nodes: got=%v", nodes)
	}
}

func TestDistribution(t *testing.T) {
	r := NewNodeRing(0, "node-a", "node-b", "node-c")
	r.AddNode("node-a")
	counts := make(map[string]int)
	for i := 0; i < 3000; i++ {
		counts[r.GetNode(fmt.Sprintf("canvas-%d", i))]++
	}
	for _, n := range r.Nodes() {
		if counts[n] < 300 {
			t.Fatalf("node %s underloaded: %v", n, counts)
		}
	}
}
