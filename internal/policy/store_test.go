package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/xela07ax/bookflow/internal/domain"
	"github.com/xela07ax/bookflow/internal/risk"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubRepo отдает заранее заданный документ либо ошибку.
type stubRepo struct {
	policy *domain.RiskPolicy
	err    error
}

func (s *stubRepo) LoadActive(ctx context.Context) (*domain.RiskPolicy, error) {
	return s.policy, s.err
}

func TestStoreStartsOnBuiltinDefault(t *testing.T) {
	store, err := NewStore(nil, zap.NewNop(), risk.Options{})
	require.NoError(t, err)
	require.Equal(t, "builtin-default", store.Engine().PolicyVersion())
}

func TestRefreshSwapsEngine(t *testing.T) {
	v2 := domain.DefaultRiskPolicy()
	v2.Version = "v2"
	repo := &stubRepo{policy: v2}

	store, err := NewStore(repo, zap.NewNop(), risk.Options{})
	require.NoError(t, err)
	require.Equal(t, "builtin-default", store.Engine().PolicyVersion())

	old := store.Engine()
	require.NoError(t, store.Refresh(context.Background()))

	// Перезагрузка — это новый экземпляр движка, не мутация старого
	require.Equal(t, "v2", store.Engine().PolicyVersion())
	require.NotSame(t, old, store.Engine())
}

func TestRefreshUnconfiguredSourceFallsBackToDefault(t *testing.T) {
	store, err := NewStore(&stubRepo{}, zap.NewNop(), risk.Options{})
	require.NoError(t, err)

	require.NoError(t, store.Refresh(context.Background()))
	require.Equal(t, "builtin-default", store.Engine().PolicyVersion())
}

func TestRefreshLoadErrorKeepsPreviousEngine(t *testing.T) {
	repo := &stubRepo{err: errors.New("connection refused")}
	store, err := NewStore(repo, zap.NewNop(), risk.Options{})
	require.NoError(t, err)

	before := store.Engine()
	err = store.Refresh(context.Background())
	require.Error(t, err)
	require.Equal(t, domain.KindPolicyError, domain.KindOf(err))
	require.Same(t, before, store.Engine())
}

func TestRefreshMalformedPolicyKeepsPreviousEngine(t *testing.T) {
	broken := domain.DefaultRiskPolicy()
	broken.Version = "broken"
	broken.Rules = append(broken.Rules, domain.RiskRule{
		Name:      "typo",
		Condition: domain.RuleCondition{Field: "amount", Operator: "=>", Value: 1},
	})
	store, err := NewStore(&stubRepo{policy: broken}, zap.NewNop(), risk.Options{})
	require.NoError(t, err)

	before := store.Engine()
	err = store.Refresh(context.Background())
	require.Error(t, err)
	require.Equal(t, domain.KindPolicyError, domain.KindOf(err))
	require.Same(t, before, store.Engine())
	require.Equal(t, "builtin-default", store.Engine().PolicyVersion())
}
