package mysql

import (
	"context"
	"errors"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	perrors "github.com/EthanQC/canvas-collab/pkg/errors"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/domain/vo"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// 内存库每个连接各自独立，只留一个连接
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seed(t *testing.T, db *gorm.DB, rows ...interface{}) {
	t.Helper()
	for _, r := range rows {
		if err := db.Create(r).Error; err != nil {
			t.Fatalf("seed %T: %v", r, err)
		}
	}
}

func TestGetCanvas(t *testing.T) {
	db := newTestDB(t)
	seed(t, db,
		&CanvasModel{CanvasID: "C", OwnerID: "U1"},
		&CanvasFieldModel{CanvasID: "C", FieldKey: "budget", Position: 2},
		&CanvasFieldModel{CanvasID: "C", FieldKey: "title", Position: 1},
		&FieldRuleModel{CanvasID: "C", FieldKey: "budget", Role: "viewer", Access: "hidden"},
		&FieldRuleModel{CanvasID: "C", FieldKey: "budget", TeamID: "finance", Access: "edit"},
		&FieldRuleModel{CanvasID: "C", FieldKey: "title", Access: "read"},
		&FieldRuleModel{CanvasID: "C", FieldKey: "title", Role: "editor", Access: "bogus"},
	)
	repo := NewPermissionRepositoryMySQL(db)

	access, err := repo.GetCanvas(context.Background(), "C")
	if err != nil {
		t.Fatalf("GetCanvas: %v", err)
	}
	if access.OwnerID != "U1" || len(access.Fields) != 2 || access.Fields[0] != "title" {
		t.Fatalf("canvas: got=%+v", access)
	}
	// 既没有团队也没有角色的规则被丢弃
	if len(access.Rules) != 3 {
		t.Fatalf("rules: want=3 got=%d", len(access.Rules))
	}
	if r := access.Rules[0]; r.Role != vo.RoleViewer || r.Access != vo.FieldHidden {
		t.Fatalf("role rule: got=%+v", r)
	}
	if r := access.Rules[1]; r.TeamID != "finance" || r.Access != vo.FieldEdit {
		t.Fatalf("team rule: got=%+v", r)
	}
	if r := access.Rules[2]; r.Access != vo.FieldHidden {
		t.Fatalf("unknown access: want=hidden got=%s", r.Access)
	}

	_, err = repo.GetCanvas(context.Background(), "missing")
	if !errors.Is(err, perrors.ErrCanvasNotFound) {
		t.Fatalf("missing canvas: want=ErrCanvasNotFound got=%v", err)
	}
}

func TestCanvasWithoutFieldsFallsBackToDefaults(t *testing.T) {
	db := newTestDB(t)
	seed(t, db, &CanvasModel{CanvasID: "C", OwnerID: "U1"})

	access, err := NewPermissionRepositoryMySQL(db).GetCanvas(context.Background(), "C")
	if err != nil {
		t.Fatalf("GetCanvas: %v", err)
	}
	if !access.HasField("Problem Statement") {
		t.Fatalf("default fields: got=%v", access.FieldKeys())
	}
}

func TestGrantsAdminsTeams(t *testing.T) {
	db := newTestDB(t)
	seed(t, db,
		&CanvasGrantModel{CanvasID: "C", UserID: "U2", Role: "editor"},
		&CanvasGrantModel{CanvasID: "C", UserID: "U3", Role: "superuser"},
		&UserModel{UserID: "A", IsAdmin: true},
		&UserModel{UserID: "U2"},
		&TeamMemberModel{TeamID: "ops", UserID: "U2"},
		&TeamMemberModel{TeamID: "finance", UserID: "U2"},
	)
	repo := NewPermissionRepositoryMySQL(db)
	ctx := context.Background()

	if role, err := repo.GetGrant(ctx, "C", "U2"); err != nil || role != vo.RoleEditor {
		t.Fatalf("grant: want=editor got=%s err=%v", role, err)
	}
	if role, _ := repo.GetGrant(ctx, "C", "U3"); role != vo.RoleNone {
		t.Fatalf("unknown role: want=none got=%s", role)
	}
	if role, _ := repo.GetGrant(ctx, "C", "nobody"); role != vo.RoleNone {
		t.Fatalf("no grant: want=none got=%s", role)
	}

	if ok, _ := repo.IsAdmin(ctx, "A"); !ok {
		t.Fatalf("admin: want=true")
	}
	if ok, _ := repo.IsAdmin(ctx, "U2"); ok {
		t.Fatalf("non admin: want=false")
	}

	teams, err := repo.GetUserTeams(ctx, "U2")
	if err != nil || len(teams) != 2 || teams[0] != "finance" || teams[1] != "ops" {
		t.Fatalf("teams: want=[finance ops] got=%v err=%v", teams, err)
	}
}
