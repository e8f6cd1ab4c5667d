package registry

import (
	"errors"
	"reflect"
	"testing"
	"time"

	perrors "github.com/EthanQC/canvas-collab/pkg/errors"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/domain/entity"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/domain/vo"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func strp(s string) *string { return &s }

func actp(a vo.Action) *vo.Action { return &a }

func mustJoin(t *testing.T, r *Registry, client, user string) entity.ClientPresence {
	t.Helper()
	p, err := r.Join(client, user, user+"-name", t0)
	if err != nil {
		t.Fatalf("Join(%s): %v", client, err)
	}
	return p
}

func TestJoinAssignsColorAndRejectsDuplicates(t *testing.T) {
	r := New("c1")
	a := mustJoin(t, r, "tab-1", "u1")
	b := mustJoin(t, r, "tab-2", "u1")
	if a.Color != b.Color {
		t.Fatalf("tabs of one user: want same color got=%s/%s", a.Color, b.Color)
	}
	if a.Action != vo.ActionViewing {
		t.Fatalf("initial action: want=viewing got=%s", a.Action)
	}
	if _, err := r.Join("tab-1", "u2", "x", t0); !errors.Is(err, perrors.ErrDuplicateClient) {
		t.Fatalf("duplicate: want ErrDuplicateClient got=%v", err)
	}
	if r.Len() != 2 {
		t.Fatalf("len: want=2 got=%d", r.Len())
	}
}

func TestUpdateUnknownClient(t *testing.T) {
	r := New("c1")
	if _, _, err := r.Update("ghost", entity.Patch{}, t0); !errors.Is(err, perrors.ErrUnknownClient) {
		t.Fatalf("want ErrUnknownClient got=%v", err)
	}
	if err := r.Touch("ghost", t0); !errors.Is(err, perrors.ErrUnknownClient) {
		t.Fatalf("touch: want ErrUnknownClient got=%v", err)
	}
	if _, err := r.Leave("ghost"); !errors.Is(err, perrors.ErrUnknownClient) {
		t.Fatalf("leave: want ErrUnknownClient got=%v", err)
	}
}

func TestUpdateWithoutChangeOnlyRefreshesLiveness(t *testing.T) {
	r := New("c1")
	mustJoin(t, r, "a", "u1")

	later := t0.Add(5 * time.Second)
	p, changed, err := r.Update("a", entity.Patch{CurrentTab: strp("")}, later)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if changed {
		t.Fatalf("no-op update reported a change")
	}
	if !p.LastSeenAt.Equal(later) {
		t.Fatalf("lastSeenAt: want=%v got=%v", later, p.LastSeenAt)
	}

	_, changed, _ = r.Update("a", entity.Patch{Cursor: &entity.Point{X: 1, Y: 2}}, later)
	if !changed {
		t.Fatalf("cursor move must be a change")
	}
}

func TestActionTransitions(t *testing.T) {
	cases := []struct {
		name      string
		start     entity.Patch
		patch     entity.Patch
		wantField string
		wantAct   vo.Action
	}{
		{
			name:      "enter editing with field",
			patch:     entity.Patch{ActiveField: strp("Risks"), Action: actp(vo.ActionEditing)},
			wantField: "Risks", wantAct: vo.ActionEditing,
		},
		{
			name:      "enter editing without field stays viewing",
			start:     entity.Patch{ActiveField: strp("Risks")},
			patch:     entity.Patch{Action: actp(vo.ActionEditing)},
			wantField: "Risks", wantAct: vo.ActionViewing,
		},
		{
			name:      "clear field releases",
			start:     entity.Patch{ActiveField: strp("Risks"), Action: actp(vo.ActionRefining)},
			patch:     entity.Patch{ActiveField: strp("")},
			wantField: "", wantAct: vo.ActionViewing,
		},
		{
			name:      "switch field releases",
			start:     entity.Patch{ActiveField: strp("Risks"), Action: actp(vo.ActionEditing)},
			patch:     entity.Patch{ActiveField: strp("KPIs"), Action: actp(vo.ActionEditing)},
			wantField: "KPIs", wantAct: vo.ActionViewing,
		},
		{
			name:      "editing to refining ignored",
			start:     entity.Patch{ActiveField: strp("Risks"), Action: actp(vo.ActionEditing)},
			patch:     entity.Patch{Action: actp(vo.ActionRefining)},
			wantField: "Risks", wantAct: vo.ActionEditing,
		},
		{
			name:      "explicit release",
			start:     entity.Patch{ActiveField: strp("Risks"), Action: actp(vo.ActionEditing)},
			patch:     entity.Patch{Action: actp(vo.ActionViewing)},
			wantField: "Risks", wantAct: vo.ActionViewing,
		},
	}
	for _, c := range cases {
		r := New("c1")
		mustJoin(t, r, "a", "u1")
		if _, _, err := r.Update("a", c.start, t0); err != nil {
			t.Fatalf("%s: start: %v", c.name, err)
		}
		p, _, err := r.Update("a", c.patch, t0)
		if err != nil {
			t.Fatalf("%s: %v", c.name, err)
		}
		if p.ActiveField != c.wantField || p.Action != c.wantAct {
			t.Fatalf("%s: want=%q/%s got=%q/%s", c.name, c.wantField, c.wantAct, p.ActiveField, p.Action)
		}
		if p.Action.Holding() && p.ActiveField == "" {
			t.Fatalf("%s: holding without active field", c.name)
		}
	}
}

func TestUpdateRejectsInvalidAction(t *testing.T) {
	r := New("c1")
	mustJoin(t, r, "a", "u1")
	bad := vo.Action("typing")
	if _, _, err := r.Update("a", entity.Patch{Action: &bad, ActiveField: strp("Risks")}, t0); !errors.Is(err, perrors.ErrInvalidAction) {
		t.Fatalf("want ErrInvalidAction got=%v", err)
	}
	p, _ := r.Get("a")
	if p.ActiveField != "" {
		t.Fatalf("rejected patch must not be applied, got field=%q", p.ActiveField)
	}
}

type op struct {
	kind   string
	client string
	user   string
	patch  entity.Patch
}

func replay(ops []op) []entity.ClientPresence {
	r := New("c1")
	for i, o := range ops {
		at := t0.Add(time.Duration(i) * time.Second)
		switch o.kind {
		case "join":
			_, _ = r.Join(o.client, o.user, o.user, at)
		case "update":
			_, _, _ = r.Update(o.client, o.patch, at)
		case "leave":
			_, _ = r.Leave(o.client)
		}
	}
	return r.Snapshot()
}

func TestReplayIsDeterministic(t *testing.T) {
	ops := []op{
		{kind: "join", client: "a", user: "u1"},
		{kind: "join", client: "b", user: "u2"},
		{kind: "update", client: "a", patch: entity.Patch{Cursor: &entity.Point{X: 10, Y: 20}}},
		{kind: "join", client: "c", user: "u1"},
		{kind: "update", client: "b", patch: entity.Patch{ActiveField: strp("KPIs"), Action: actp(vo.ActionEditing)}},
		{kind: "leave", client: "a"},
		{kind: "update", client: "a", patch: entity.Patch{CurrentTab: strp("ghost")}},
		{kind: "update", client: "c", patch: entity.Patch{CurrentTab: strp("review")}},
	}

	first, second := replay(ops), replay(ops)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("replay differs:\n%+v\n%+v", first, second)
	}

	if len(first) != 2 || first[0].ClientID != "b" || first[1].ClientID != "c" {
		t.Fatalf("join order: got=%+v", first)
	}
	if first[0].Action != vo.ActionEditing || first[0].ActiveField != "KPIs" {
		t.Fatalf("b state: got=%+v", first[0])
	}
	if first[1].CurrentTab != "review" || first[1].Color != vo.ColorFor("u1") {
		t.Fatalf("c state: got=%+v", first[1])
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	r := New("c1")
	mustJoin(t, r, "a", "u1")
	_, _, _ = r.Update("a", entity.Patch{Cursor: &entity.Point{X: 1, Y: 1}}, t0)

	snap := r.Snapshot()
	snap[0].Cursor.X = 99
	p, _ := r.Get("a")
	if p.Cursor.X != 1 {
		t.Fatalf("snapshot aliases registry state")
	}
}

func TestSweepStale(t *testing.T) {
	r := New("c1")
	mustJoin(t, r, "a", "u1")
	mustJoin(t, r, "b", "u2")
	if err := r.Touch("b", t0.Add(25*time.Second)); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	evicted := r.SweepStale(t0.Add(31*time.Second), 30*time.Second)
	if len(evicted) != 1 || evicted[0].ClientID != "a" {
		t.Fatalf("evicted: want=[a] got=%+v", evicted)
	}
	if _, ok := r.Get("a"); ok {
		t.Fatalf("a still present after sweep")
	}
	if r.Len() != 1 {
		t.Fatalf("len: want=1 got=%d", r.Len())
	}
}
