package arbiter

import (
	"testing"
	"time"

	"github.com/EthanQC/canvas-collab/services/presence_service/internal/domain/entity"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/domain/vo"
)

func presence(id, field string, act vo.Action, cursor *entity.Point) entity.ClientPresence {
	return entity.ClientPresence{ClientID: id, UserID: "user-" + id, ActiveField: field, Action: act, Cursor: cursor}
}

func TestLockedFieldsForAllowsMultipleHolders(t *testing.T) {
	locks := LockedFieldsFor([]entity.ClientPresence{
		presence("a", "Risks", vo.ActionEditing, nil),
		presence("b", "Risks", vo.ActionRefining, nil),
		presence("c", "Risks", vo.ActionViewing, nil),
		presence("d", "", vo.ActionViewing, nil),
	})
	if got := Holders(locks, "Risks"); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("holders: want=[a b] got=%v", got)
	}
	if len(locks) != 1 {
		t.Fatalf("lock map size: want=1 got=%d", len(locks))
	}
}

func TestCursorAnchorUsesObserverLayout(t *testing.T) {
	raw := &entity.Point{X: 500, Y: 900}
	u1 := presence("u1", "budget", vo.ActionEditing, raw)
	locks := LockedFieldsFor([]entity.ClientPresence{u1})

	got := CursorAnchorFor(u1, locks, Layout{"budget": {X: 40, Y: 120}})
	if got == nil || *got != (entity.Point{X: 40, Y: 120}) {
		t.Fatalf("anchor: want={40 120} got=%v", got)
	}

	if got := CursorAnchorFor(u1, locks, Layout{}); got != nil {
		t.Fatalf("missing layout entry: want nil got=%v", got)
	}

	viewer := presence("u2", "budget", vo.ActionViewing, raw)
	if got := CursorAnchorFor(viewer, locks, Layout{"budget": {X: 1, Y: 1}}); got != nil {
		t.Fatalf("non-holder: want nil got=%v", got)
	}
}

func TestDiff(t *testing.T) {
	before := LockedFieldsFor([]entity.ClientPresence{
		presence("a", "Risks", vo.ActionEditing, nil),
		presence("b", "KPIs", vo.ActionEditing, nil),
	})
	after := LockedFieldsFor([]entity.ClientPresence{
		presence("a", "Risks", vo.ActionEditing, nil),
		presence("c", "KPIs", vo.ActionRefining, nil),
	})
	at := time.Unix(100, 0)
	users := map[string]string{"b": "ub", "c": "uc"}

	changes := Diff("c1", before, after, users, at)
	if len(changes) != 2 {
		t.Fatalf("changes: want=2 got=%+v", changes)
	}
	if changes[0].Op != entity.LockReleased || changes[0].ClientID != "b" || changes[0].UserID != "ub" {
		t.Fatalf("first change: got=%+v", changes[0])
	}
	if changes[1].Op != entity.LockAcquired || changes[1].ClientID != "c" || changes[1].FieldKey != "KPIs" {
		t.Fatalf("second change: got=%+v", changes[1])
	}
	if len(Diff("c1", after, after, users, at)) != 0 {
		t.Fatalf("identical maps must not diff")
	}
}

func TestToViewport(t *testing.T) {
	got := ToViewport(entity.Point{X: 100, Y: 1500}, Viewport{ScrollX: 20, ScrollY: 1200})
	if got != (entity.Point{X: 80, Y: 300}) {
		t.Fatalf("want={80 300} got=%v", got)
	}
}
