package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Single-table key layout. Every ordering scope is one partition, so
// sibling lists and counts are strongly consistent base-table queries:
//
//	courses:      pk=COURSES          sk=COURSE#<id>
//	videos:       pk=COURSE#<course>  sk=VIDEO#<id>
//	video lookup: pk=VIDEO#<id>       sk=METADATA   (course_id)
//	admins:       pk=ADMIN#<username> sk=PROFILE
const (
	CoursesPK      = "COURSES"
	MetadataSK     = "METADATA"
	AdminProfileSK = "PROFILE"

	courseSKPrefix = "COURSE#"
	videoSKPrefix  = "VIDEO#"

	// MaxBatchWriteItems is the DynamoDB BatchWriteItem request limit.
	MaxBatchWriteItems = 25
	// MaxBatchRetries bounds resubmission of unprocessed batch items.
	MaxBatchRetries = 5
)

// DynamoDBAPI defines the DynamoDB operations used by the repositories.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Key helpers

func courseSK(id string) string { return courseSKPrefix + id }

func courseVideosPK(courseID string) string { return "COURSE#" + courseID }

func videoSK(id string) string { return videoSKPrefix + id }

func videoLookupPK(id string) string { return "VIDEO#" + id }

func adminPK(username string) string { return "ADMIN#" + strings.ToLower(username) }

func itemKey(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: pk},
		"sk": &types.AttributeValueMemberS{Value: sk},
	}
}

// updateBuilder assembles a SET update expression with aliased attribute
// names, since "order" and friends are DynamoDB reserved words.
type updateBuilder struct {
	sets   []string
	names  map[string]string
	values map[string]types.AttributeValue
}

func newUpdate() *updateBuilder {
	return &updateBuilder{
		names:  make(map[string]string),
		values: make(map[string]types.AttributeValue),
	}
}

func (u *updateBuilder) set(attr string, value types.AttributeValue) *updateBuilder {
	n := len(u.sets)
	name := fmt.Sprintf("#a%d", n)
	placeholder := fmt.Sprintf(":v%d", n)
	u.names[name] = attr
	u.values[placeholder] = value
	u.sets = append(u.sets, fmt.Sprintf("%s = %s", name, placeholder))
	return u
}

func (u *updateBuilder) setString(attr, value string) *updateBuilder {
	return u.set(attr, &types.AttributeValueMemberS{Value: value})
}

func (u *updateBuilder) setInt(attr string, value int) *updateBuilder {
	return u.set(attr, &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", value)})
}

func (u *updateBuilder) setBool(attr string, value bool) *updateBuilder {
	return u.set(attr, &types.AttributeValueMemberBOOL{Value: value})
}

func (u *updateBuilder) input(table, pk, sk string) *dynamodb.UpdateItemInput {
	return &dynamodb.UpdateItemInput{
		TableName:                 aws.String(table),
		Key:                       itemKey(pk, sk),
		UpdateExpression:          aws.String("SET " + strings.Join(u.sets, ", ")),
		ExpressionAttributeNames:  u.names,
		ExpressionAttributeValues: u.values,
		ConditionExpression:       aws.String("attribute_exists(pk)"),
	}
}

// isConditionFailed reports whether err is a failed condition check.
func isConditionFailed(err error) bool {
	var condErr *types.ConditionalCheckFailedException
	return errors.As(err, &condErr)
}

// failedCondition returns the index of the first transaction item whose
// condition check failed, or -1.
func failedCondition(err error) int {
	var canceled *types.TransactionCanceledException
	if !errors.As(err, &canceled) {
		return -1
	}
	for i, reason := range canceled.CancellationReasons {
		if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
			return i
		}
	}
	return -1
}

// partitionQuery selects the items of partition pk whose sort key starts
// with prefix. Reads are strongly consistent.
func partitionQuery(table, pk, prefix string) *dynamodb.QueryInput {
	return &dynamodb.QueryInput{
		TableName:              aws.String(table),
		KeyConditionExpression: aws.String("pk = :pk AND begins_with(sk, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: pk},
			":prefix": &types.AttributeValueMemberS{Value: prefix},
		},
		ConsistentRead: aws.Bool(true),
	}
}

// queryPartition returns every item of a partition query, optionally
// restricted to published items.
func queryPartition[T any](ctx context.Context, client DynamoDBAPI, table, pk, prefix string, publishedOnly bool) ([]T, error) {
	input := partitionQuery(table, pk, prefix)
	if publishedOnly {
		input.FilterExpression = aws.String("is_published = :published")
		input.ExpressionAttributeValues[":published"] = &types.AttributeValueMemberBOOL{Value: true}
	}

	var out []T
	paginator := dynamodb.NewQueryPaginator(client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query %s: %w", pk, err)
		}

		var items []T
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal items: %w", err)
		}
		out = append(out, items...)
	}

	return out, nil
}

// countPartition counts the items of a partition query.
func countPartition(ctx context.Context, client DynamoDBAPI, table, pk, prefix string) (int, error) {
	input := partitionQuery(table, pk, prefix)
	input.Select = types.SelectCount

	total := 0
	paginator := dynamodb.NewQueryPaginator(client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to count %s: %w", pk, err)
		}
		total += int(page.Count)
	}

	return total, nil
}

// batchDelete deletes the given primary keys in chunks, resubmitting
// unprocessed items a bounded number of times.
func batchDelete(ctx context.Context, client DynamoDBAPI, table string, keys []map[string]types.AttributeValue) error {
	for start := 0; start < len(keys); start += MaxBatchWriteItems {
		end := min(start+MaxBatchWriteItems, len(keys))

		requests := make([]types.WriteRequest, 0, end-start)
		for _, key := range keys[start:end] {
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: key},
			})
		}

		pending := map[string][]types.WriteRequest{table: requests}
		for attempt := 0; len(pending[table]) > 0; attempt++ {
			if attempt >= MaxBatchRetries {
				return fmt.Errorf("batch delete left %d unprocessed items", len(pending[table]))
			}
			out, err := client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: pending,
			})
			if err != nil {
				return fmt.Errorf("failed to batch delete: %w", err)
			}
			pending = out.UnprocessedItems
		}
	}
	return nil
}
