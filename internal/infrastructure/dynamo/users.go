package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-auth-nosql/internal/config"
	"github.com/go-auth-nosql/internal/domain"
	"github.com/go-auth-nosql/internal/pkg/identifier"
)

// identifierRow claims one email or phone for a user. The identifiers table
// is keyed by the identifier, which makes uniqueness a conditional put.
type identifierRow struct {
	Identifier string `dynamodbav:"identifier"`
	UserID     string `dynamodbav:"user_id"`
}

// UserRepo provides typed DynamoDB operations for the users and
// user_identifiers tables.
type UserRepo struct {
	client      API
	users       string
	identifiers string
	timeout     time.Duration
	now         func() time.Time
}

var _ domain.UserRepository = (*UserRepo)(nil)

func NewUserRepo(client API, tables config.DynamoTables, timeout time.Duration) *UserRepo {
	return &UserRepo{
		client:      client,
		users:       tables.Users,
		identifiers: tables.Identifiers,
		timeout:     timeout,
		now:         time.Now,
	}
}

func (r *UserRepo) FindByIdentifier(ctx context.Context, ident string) (*domain.User, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.identifiers),
		Key:            strKey(fieldIdentifier, ident),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, unavailable("get identifier", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("user not found: %w", domain.ErrNotFound)
	}
	var row identifierRow
	if err := attributevalue.UnmarshalMap(out.Item, &row); err != nil {
		return nil, fmt.Errorf("unmarshal identifier: %w", err)
	}
	return r.get(ctx, row.UserID)
}

func (r *UserRepo) Get(ctx context.Context, userID string) (*domain.User, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	return r.get(ctx, userID)
}

func (r *UserRepo) get(ctx context.Context, userID string) (*domain.User, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.users),
		Key:            strKey(fieldUserID, userID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, unavailable("get user", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("user not found: %w", domain.ErrNotFound)
	}
	var u domain.User
	if err := attributevalue.UnmarshalMap(out.Item, &u); err != nil {
		return nil, fmt.Errorf("unmarshal user: %w", err)
	}
	return &u, nil
}

// Create writes the user row and one identifier row per email/phone in a
// single transaction. Any identifier already claimed cancels the whole write.
func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	item, err := attributevalue.MarshalMap(u)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	writes := []types.TransactWriteItem{{
		Put: &types.Put{
			TableName:           aws.String(r.users),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(user_id)"),
		},
	}}
	for _, ident := range identifierKeys(u) {
		row, err := attributevalue.MarshalMap(identifierRow{Identifier: ident, UserID: u.UserID})
		if err != nil {
			return fmt.Errorf("marshal identifier: %w", err)
		}
		writes = append(writes, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(r.identifiers),
				Item:                row,
				ConditionExpression: aws.String("attribute_not_exists(identifier)"),
			},
		})
	}

	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: writes})
	if isTransactionConflict(err) {
		return fmt.Errorf("identifier already registered: %w", domain.ErrConflict)
	}
	if err != nil {
		return unavailable("create user", err)
	}
	return nil
}

func (r *UserRepo) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	return r.update(ctx, userID, map[string]interface{}{fieldPasswordHash: passwordHash})
}

func (r *UserRepo) MarkVerified(ctx context.Context, userID, ident string) error {
	field := fieldPhoneVerified
	if identifier.IsEmail(ident) {
		field = fieldEmailVerified
	}
	return r.update(ctx, userID, map[string]interface{}{field: true})
}

func (r *UserRepo) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	return r.update(ctx, userID, map[string]interface{}{fieldLastLoginAt: at.UTC()})
}

func (r *UserRepo) update(ctx context.Context, userID string, updates map[string]interface{}) error {
	updates[fieldUpdatedAt] = r.now().UTC()
	ue, err := buildUpdateExpr(updates)
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.users),
		Key:                       strKey(fieldUserID, userID),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String("attribute_exists(user_id)"),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	if isConditionFailed(err) {
		return fmt.Errorf("user not found: %w", domain.ErrNotFound)
	}
	if err != nil {
		return unavailable("update user", err)
	}
	return nil
}

// identifierKeys lists every identifier the user can be found by.
func identifierKeys(u *domain.User) []string {
	seen := map[string]bool{}
	var out []string
	for _, k := range []string{u.Identifier, u.Email, u.Phone} {
		if k != "" && !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}
