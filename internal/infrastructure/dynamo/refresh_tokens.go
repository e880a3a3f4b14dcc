package dynamo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-auth-nosql/internal/domain"
)

// batchWriteMax is the DynamoDB limit of requests per BatchWriteItem call.
const batchWriteMax = 25

// RefreshRepo stores refresh records in the refresh_tokens table. Rows expire
// through the table TTL on expires_at_unix; DeleteExpired covers the lag of
// the TTL reaper.
type RefreshRepo struct {
	client    API
	tableName string
	timeout   time.Duration
}

var _ domain.RefreshRepository = (*RefreshRepo)(nil)

func NewRefreshRepo(client API, tableName string, timeout time.Duration) *RefreshRepo {
	return &RefreshRepo{client: client, tableName: tableName, timeout: timeout}
}

// FindBySession is a consistent GetItem on the primary key, so a record saved
// by the previous rotation is always visible.
func (r *RefreshRepo) FindBySession(ctx context.Context, sessionID string) (*domain.RefreshRecord, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	got, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey(fieldSessionID, sessionID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, unavailable("get refresh token", err)
	}
	if got.Item == nil {
		return nil, fmt.Errorf("refresh token not found: %w", domain.ErrNotFound)
	}
	var rec domain.RefreshRecord
	if err := attributevalue.UnmarshalMap(got.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal refresh record: %w", err)
	}
	return &rec, nil
}

func (r *RefreshRepo) Save(ctx context.Context, rec *domain.RefreshRecord) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal refresh record: %w", err)
	}
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(session_id)"),
	})
	if isConditionFailed(err) {
		return fmt.Errorf("refresh record %s exists: %w", rec.SessionID, domain.ErrConflict)
	}
	if err != nil {
		return unavailable("put refresh token", err)
	}
	return nil
}

// SetRevoked is a conditional update on revoked = false. Of two concurrent
// callers exactly one succeeds; the other gets ErrAlreadyRevoked.
func (r *RefreshRepo) SetRevoked(ctx context.Context, sessionID string, at time.Time) error {
	ue, err := buildUpdateExpr(map[string]interface{}{
		fieldRevoked:   true,
		fieldRevokedAt: at.UTC(),
	})
	if err != nil {
		return err
	}
	ue.Names["#rv"] = fieldRevoked
	ue.Values[":f"] = &types.AttributeValueMemberBOOL{Value: false}

	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           aws.String(r.tableName),
		Key:                                 strKey(fieldSessionID, sessionID),
		UpdateExpression:                    aws.String(ue.Expr),
		ConditionExpression:                 aws.String("attribute_exists(session_id) AND #rv = :f"),
		ExpressionAttributeNames:            ue.Names,
		ExpressionAttributeValues:           ue.Values,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err == nil {
		return nil
	}
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		if len(ccf.Item) == 0 {
			return fmt.Errorf("refresh record not found: %w", domain.ErrNotFound)
		}
		return domain.ErrAlreadyRevoked
	}
	return unavailable("revoke refresh token", err)
}

func (r *RefreshRepo) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int, error) {
	input := &dynamodb.QueryInput{
		TableName:                aws.String(r.tableName),
		IndexName:                aws.String(indexUserID),
		KeyConditionExpression:   aws.String("user_id = :uid"),
		FilterExpression:         aws.String("#rv = :f"),
		ProjectionExpression:     aws.String(fieldSessionID),
		ExpressionAttributeNames: map[string]string{"#rv": fieldRevoked},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
			":f":   &types.AttributeValueMemberBOOL{Value: false},
		},
	}
	n := 0
	p := dynamodb.NewQueryPaginator(r.client, input)
	for p.HasMorePages() {
		qctx, cancel := withTimeout(ctx, r.timeout)
		page, err := p.NextPage(qctx)
		cancel()
		if err != nil {
			return n, unavailable("query user refresh tokens", err)
		}
		for _, item := range page.Items {
			sid, ok := item[fieldSessionID].(*types.AttributeValueMemberS)
			if !ok {
				continue
			}
			err := r.SetRevoked(ctx, sid.Value, at)
			switch {
			case err == nil:
				n++
			case errors.Is(err, domain.ErrAlreadyRevoked), errors.Is(err, domain.ErrNotFound):
			default:
				return n, err
			}
		}
	}
	return n, nil
}

// DeleteExpired scans for rows past cutoff and deletes them in batches.
func (r *RefreshRepo) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	input := &dynamodb.ScanInput{
		TableName:                aws.String(r.tableName),
		FilterExpression:         aws.String("#e < :c"),
		ProjectionExpression:     aws.String(fieldSessionID),
		ExpressionAttributeNames: map[string]string{"#e": fieldExpiresAtUnix},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":c": &types.AttributeValueMemberN{Value: strconv.FormatInt(cutoff.Unix(), 10)},
		},
	}
	var keys []map[string]types.AttributeValue
	p := dynamodb.NewScanPaginator(r.client, input)
	for p.HasMorePages() {
		pctx, cancel := withTimeout(ctx, r.timeout)
		page, err := p.NextPage(pctx)
		cancel()
		if err != nil {
			return 0, unavailable("scan refresh tokens", err)
		}
		for _, item := range page.Items {
			if sid, ok := item[fieldSessionID].(*types.AttributeValueMemberS); ok {
				keys = append(keys, strKey(fieldSessionID, sid.Value))
			}
		}
	}

	deleted := 0
	for start := 0; start < len(keys); start += batchWriteMax {
		end := start + batchWriteMax
		if end > len(keys) {
			end = len(keys)
		}
		n, err := r.deleteBatch(ctx, keys[start:end])
		deleted += n
		if err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}

func (r *RefreshRepo) deleteBatch(ctx context.Context, keys []map[string]types.AttributeValue) (int, error) {
	reqs := make([]types.WriteRequest, 0, len(keys))
	for _, k := range keys {
		reqs = append(reqs, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: k}})
	}
	pending := map[string][]types.WriteRequest{r.tableName: reqs}
	for attempt := 0; attempt < 3 && len(pending[r.tableName]) > 0; attempt++ {
		bctx, cancel := withTimeout(ctx, r.timeout)
		out, err := r.client.BatchWriteItem(bctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		cancel()
		if err != nil {
			return len(keys) - len(pending[r.tableName]), unavailable("batch delete refresh tokens", err)
		}
		pending = out.UnprocessedItems
	}
	left := len(pending[r.tableName])
	if left > 0 {
		slog.Warn("refresh token sweep left unprocessed items", "count", left)
	}
	return len(keys) - left, nil
}
