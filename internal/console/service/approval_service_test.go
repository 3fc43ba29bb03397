package service

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/agentpay-gateway/internal/domain"
)

type recordingApprovalRepo struct {
	decision domain.ApprovalStatus
	reviewer string
	notes    *string
}

func (r *recordingApprovalRepo) GetApproval(context.Context, string) (*domain.PendingApproval, error) {
	return nil, nil
}

func (r *recordingApprovalRepo) FindApprovals(context.Context, string, domain.ApprovalStatus, int) ([]*domain.PendingApproval, error) {
	return nil, nil
}

func (r *recordingApprovalRepo) DecideApproval(_ context.Context, _ string, decision domain.ApprovalStatus, reviewer string, notes *string) (string, error) {
	r.decision = decision
	r.reviewer = reviewer
	r.notes = notes
	return "int-1", nil
}

// Redis недоступен: сигнал пропадает, решение все равно фиксируется.
func deadRedis() *redis.Client {
	return redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
}

func TestDecideApprovalPassesNotes(t *testing.T) {
	repo := &recordingApprovalRepo{}
	svc := NewApprovalService(deadRedis(), repo, zap.NewNop())

	err := svc.DecideApproval(context.Background(), "apr-1", false, "alice", "Budget exceeded for Q3")
	require.NoError(t, err)

	assert.Equal(t, domain.ApprovalRejected, repo.decision)
	assert.Equal(t, "alice", repo.reviewer)
	require.NotNil(t, repo.notes)
	assert.Equal(t, "Budget exceeded for Q3", *repo.notes)
}

func TestDecideApprovalEmptyNotes(t *testing.T) {
	repo := &recordingApprovalRepo{}
	svc := NewApprovalService(deadRedis(), repo, zap.NewNop())

	err := svc.DecideApproval(context.Background(), "apr-1", true, "bob", "")
	require.NoError(t, err)

	assert.Equal(t, domain.ApprovalApproved, repo.decision)
	assert.Nil(t, repo.notes, "пустые заметки не превращаются в пустую строку в базе")
}
