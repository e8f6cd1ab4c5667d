package memory

import (
	"context"
	"errors"
	"testing"

	perrors "github.com/EthanQC/canvas-collab/pkg/errors"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/application/permission"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/domain/vo"
)

func testSeed() Seed {
	return Seed{
		Canvases: []SeedCanvas{{
			ID:     "C",
			Owner:  "U1",
			Fields: []string{"title", "budget"},
			Grants: []SeedGrant{{User: "U2", Role: "viewer"}, {User: "U3", Role: "editor"}},
			Rules: []SeedRule{
				{Field: "budget", Role: "viewer", Access: "hidden"},
				{Field: "budget", Team: "finance", Access: "edit"},
			},
		}},
		Admins: []string{"A"},
		Teams:  []SeedTeam{{ID: "finance", Members: []string{"U2"}}},
	}
}

func TestFromSeed(t *testing.T) {
	repo, err := FromSeed(testSeed())
	if err != nil {
		t.Fatalf("FromSeed: %v", err)
	}
	ctx := context.Background()

	c, err := repo.GetCanvas(ctx, "C")
	if err != nil || c.OwnerID != "U1" || len(c.Rules) != 2 {
		t.Fatalf("canvas: got=%+v err=%v", c, err)
	}
	if role, _ := repo.GetGrant(ctx, "C", "U3"); role != vo.RoleEditor {
		t.Fatalf("grant: want=editor got=%s", role)
	}
	if ok, _ := repo.IsAdmin(ctx, "A"); !ok {
		t.Fatalf("admin: want=true")
	}
	if teams, _ := repo.GetUserTeams(ctx, "U2"); len(teams) != 1 || teams[0] != "finance" {
		t.Fatalf("teams: got=%v", teams)
	}
	if _, err := repo.GetCanvas(ctx, "nope"); !errors.Is(err, perrors.ErrCanvasNotFound) {
		t.Fatalf("missing: want=ErrCanvasNotFound got=%v", err)
	}
}

func TestFromSeedRejectsBadData(t *testing.T) {
	bad := testSeed()
	bad.Canvases[0].Grants = append(bad.Canvases[0].Grants, SeedGrant{User: "U4", Role: "root"})
	if _, err := FromSeed(bad); err == nil {
		t.Fatalf("unknown role: want error")
	}

	bad = testSeed()
	bad.Canvases[0].Rules = append(bad.Canvases[0].Rules, SeedRule{Field: "title", Access: "write"})
	if _, err := FromSeed(bad); err == nil {
		t.Fatalf("unknown access: want error")
	}
}

// 与解析器一起验证团队覆盖和角色覆盖的组合
func TestResolverOverSeed(t *testing.T) {
	repo, _ := FromSeed(testSeed())
	res := permission.NewResolver(repo)
	ctx := context.Background()

	// U2 是 viewer 但属于 finance，团队覆盖优先，仍被 viewer 上限压到 read
	if a, _ := res.FieldVisibility(ctx, "U2", "C", "budget"); a != vo.FieldRead {
		t.Fatalf("U2 budget: want=read got=%s", a)
	}
	if a, _ := res.FieldVisibility(ctx, "U3", "C", "budget"); a != vo.FieldEdit {
		t.Fatalf("U3 budget: want=edit got=%s", a)
	}

	repo.Grant("C", "U3", vo.RoleNone)
	res.Invalidate("C", "U3")
	if ok, _ := res.CanAccess(ctx, "U3", "C", vo.RoleViewer); ok {
		t.Fatalf("revoked: want no access")
	}
}
