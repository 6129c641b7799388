package service

import (
	"context"
	"testing"

	"github.com/csmith1188/FormBank/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimitThresholds(t *testing.T) {
	assert.Equal(t, int64(250), limitThreshold(0))
	assert.Equal(t, int64(750), limitThreshold(1))
	assert.Equal(t, int64(1500), limitThreshold(2))
	assert.Equal(t, int64(2500), limitThreshold(3))
}

func TestRecalculateLimit_TwoThresholdsCrossed(t *testing.T) {
	repo := newFakeLedger()
	svc, _ := newTestService(repo, &fakeGateway{})

	// Lifetime repayments of 1000 cross 250 and 750 but not 1500
	repo.loans[90] = &models.Loan{ID: 90, UserID: 42, AmountOwed: 1000, AmountPaid: 1000, Status: models.LoanPaid}

	result, err := svc.RecalculateLimit(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, result.Increased)
	assert.Equal(t, 2, result.Increments)
	assert.Equal(t, int64(750), result.NewLimit)
	assert.Equal(t, int64(750), repo.limits[42].CurrentLimit)
	assert.Equal(t, 2, repo.limits[42].IncreaseCount)
}

func TestRecalculateLimit_Idempotent(t *testing.T) {
	repo := newFakeLedger()
	svc, _ := newTestService(repo, &fakeGateway{})

	repo.loans[90] = &models.Loan{ID: 90, UserID: 42, AmountOwed: 1000, AmountPaid: 1000, Status: models.LoanPaid}

	first, err := svc.RecalculateLimit(context.Background(), 42)
	require.NoError(t, err)
	require.True(t, first.Increased)

	second, err := svc.RecalculateLimit(context.Background(), 42)
	require.NoError(t, err)
	assert.False(t, second.Increased)
	assert.Equal(t, 0, second.Increments)
	assert.Equal(t, first.NewLimit, second.NewLimit)
	assert.Equal(t, int64(750), repo.limits[42].CurrentLimit)
}

func TestRecalculateLimit_NoRepayments(t *testing.T) {
	repo := newFakeLedger()
	svc, _ := newTestService(repo, &fakeGateway{})

	result, err := svc.RecalculateLimit(context.Background(), 42)
	require.NoError(t, err)
	assert.False(t, result.Increased)
	assert.Equal(t, int64(250), result.NewLimit)
}
