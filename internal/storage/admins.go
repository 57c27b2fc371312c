package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/amillerrr/lms-catalog/pkg/models"
)

// ErrAdminExists is returned when creating an admin whose username is taken.
var ErrAdminExists = errors.New("admin already exists")

// AdminRepository handles admin records in DynamoDB.
type AdminRepository struct {
	client    DynamoDBAPI
	tableName string
}

// NewAdminRepository creates an AdminRepository on an existing DynamoDB client.
func NewAdminRepository(client DynamoDBAPI, tableName string) *AdminRepository {
	return &AdminRepository{
		client:    client,
		tableName: tableName,
	}
}

// CreateAdmin stores a new admin. The username is lower-cased.
func (r *AdminRepository) CreateAdmin(ctx context.Context, admin *models.Admin) error {
	now := models.Timestamp(time.Now())
	admin.Username = strings.ToLower(admin.Username)
	admin.PK = adminPK(admin.Username)
	admin.SK = AdminProfileSK
	admin.CreatedAt = now
	admin.UpdatedAt = now

	item, err := attributevalue.MarshalMap(admin)
	if err != nil {
		return fmt.Errorf("failed to marshal admin: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrAdminExists
		}
		return fmt.Errorf("failed to create admin: %w", err)
	}
	return nil
}

// GetAdmin retrieves an admin by username.
func (r *AdminRepository) GetAdmin(ctx context.Context, username string) (*models.Admin, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       itemKey(adminPK(username), AdminProfileSK),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get admin: %w", err)
	}

	if result.Item == nil {
		return nil, models.ErrAdminNotFound
	}

	var admin models.Admin
	if err := attributevalue.UnmarshalMap(result.Item, &admin); err != nil {
		return nil, fmt.Errorf("failed to unmarshal admin: %w", err)
	}
	return &admin, nil
}

// UpdatePassword replaces an admin's password hash.
func (r *AdminRepository) UpdatePassword(ctx context.Context, username, passwordHash string) error {
	input := newUpdate().
		setString("password_hash", passwordHash).
		setString("updated_at", models.Timestamp(time.Now())).
		input(r.tableName, adminPK(username), AdminProfileSK)

	return r.update(ctx, input)
}

// RecordLogin stamps the admin's last successful login.
func (r *AdminRepository) RecordLogin(ctx context.Context, username string, at time.Time) error {
	input := newUpdate().
		setString("last_login", models.Timestamp(at)).
		input(r.tableName, adminPK(username), AdminProfileSK)

	return r.update(ctx, input)
}

func (r *AdminRepository) update(ctx context.Context, input *dynamodb.UpdateItemInput) error {
	_, err := r.client.UpdateItem(ctx, input)
	if err != nil {
		if isConditionFailed(err) {
			return models.ErrAdminNotFound
		}
		return fmt.Errorf("failed to update admin: %w", err)
	}
	return nil
}
