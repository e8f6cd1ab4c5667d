package application

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	perrors "github.com/EthanQC/canvas-collab/pkg/errors"
	"github.com/EthanQC/canvas-collab/pkg/jwt"
	"github.com/EthanQC/canvas-collab/pkg/metrics"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/domain/vo"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/ports/in"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/ports/out"
)

// AccessChecker 签发前的入会资格检查
type AccessChecker interface {
	CanAccess(ctx context.Context, userID, canvasID string, min vo.Role) (bool, error)
}

// TokenUseCaseImpl 签发画布会话令牌并告知会话所在节点
type TokenUseCaseImpl struct {
	tokens    jwt.Manager
	access    AccessChecker
	directory out.SessionDirectory
	router    out.NodeRouter
	nodeID    string
}

func NewTokenUseCase(
	tokens jwt.Manager,
	access AccessChecker,
	directory out.SessionDirectory,
	router out.NodeRouter,
	nodeID string,
) in.TokenUseCase {
	return &TokenUseCaseImpl{
		tokens:    tokens,
		access:    access,
		directory: directory,
		router:    router,
		nodeID:    nodeID,
	}
}

// Mint notAfter 是 Web 会话的过期时间，令牌不会比它活得更久
func (uc *TokenUseCaseImpl) Mint(ctx context.Context, userID, userName, canvasID string, notAfter time.Time) (*in.TokenGrant, error) {
	ok, err := uc.access.CanAccess(ctx, userID, canvasID, vo.RoleViewer)
	if err != nil {
		return nil, fmt.Errorf("check canvas access: %w", err)
	}
	if !ok {
		metrics.Refusals.WithLabelValues(perrors.ReasonPermissionDenied).Inc()
		return nil, perrors.PermissionDenied(nil)
	}

	token, id, err := uc.tokens.IssueUntil(userID, userName, canvasID, notAfter)
	if err != nil {
		if perrors.RefusalReason(err) != "" {
			metrics.Refusals.WithLabelValues(perrors.RefusalReason(err)).Inc()
		}
		return nil, err
	}

	return &in.TokenGrant{
		Token:     token,
		CanvasID:  canvasID,
		ExpiresAt: id.ExpiresAt,
		Node:      uc.nodeFor(ctx, canvasID),
	}, nil
}

// nodeFor 优先用活跃会话所在节点，其次一致性哈希，最后是本节点
func (uc *TokenUseCaseImpl) nodeFor(ctx context.Context, canvasID string) string {
	if uc.directory != nil {
		node, err := uc.directory.Lookup(ctx, canvasID)
		if err != nil {
			zap.L().Warn("session directory lookup failed", zap.String("canvas_id", canvasID), zap.Error(err))
		} else if node != "" {
			return node
		}
	}
	if uc.router != nil {
		if node := uc.router.GetNode(canvasID); node != "" {
			return node
		}
	}
	return uc.nodeID
}
