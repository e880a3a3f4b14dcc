package dynamo

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-auth-nosql/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildUpdateExpr_SortedAndNamed(t *testing.T) {
	ue, err := buildUpdateExpr(map[string]interface{}{
		fieldUpdatedAt:    "2026-01-01T00:00:00Z",
		fieldPasswordHash: "$2a$10$hash",
	})
	require.NoError(t, err)

	assert.Equal(t, "SET #f0 = :v0, #f1 = :v1", ue.Expr)
	assert.Equal(t, fieldPasswordHash, ue.Names["#f0"])
	assert.Equal(t, fieldUpdatedAt, ue.Names["#f1"])

	again, err := buildUpdateExpr(map[string]interface{}{
		fieldPasswordHash: "$2a$10$hash",
		fieldUpdatedAt:    "2026-01-01T00:00:00Z",
	})
	require.NoError(t, err)
	assert.Equal(t, ue.Expr, again.Expr)
}

func TestBuildUpdateExpr_MarshalsBool(t *testing.T) {
	ue, err := buildUpdateExpr(map[string]interface{}{fieldEmailVerified: true})
	require.NoError(t, err)
	b, ok := ue.Values[":v0"].(*types.AttributeValueMemberBOOL)
	require.True(t, ok)
	assert.True(t, b.Value)
}

func TestBuildUpdateExpr_Empty(t *testing.T) {
	_, err := buildUpdateExpr(map[string]interface{}{})
	assert.ErrorContains(t, err, "no fields to update")
}

func TestErrorClassification(t *testing.T) {
	ccf := fmt.Errorf("op: %w", &types.ConditionalCheckFailedException{Message: aws.String("nope")})
	assert.True(t, isConditionFailed(ccf))
	assert.False(t, isConditionFailed(errors.New("timeout")))

	conflict := &types.TransactionCanceledException{CancellationReasons: []types.CancellationReason{
		{Code: aws.String("None")},
		{Code: aws.String("ConditionalCheckFailed")},
	}}
	assert.True(t, isTransactionConflict(conflict))
	assert.False(t, isTransactionConflict(&types.TransactionCanceledException{CancellationReasons: []types.CancellationReason{
		{Code: aws.String("ThrottlingError")},
	}}))

	err := unavailable("GetItem", errors.New("connection reset"))
	assert.ErrorIs(t, err, domain.ErrDependencyUnavailable)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestWithTimeout(t *testing.T) {
	ctx, cancel := withTimeout(t.Context(), 0)
	defer cancel()
	_, has := ctx.Deadline()
	assert.False(t, has)

	ctx2, cancel2 := withTimeout(t.Context(), time.Second)
	defer cancel2()
	_, has = ctx2.Deadline()
	assert.True(t, has)
}
