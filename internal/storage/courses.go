package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/amillerrr/lms-catalog/pkg/models"
)

// CourseRepository handles course records in DynamoDB.
type CourseRepository struct {
	client    DynamoDBAPI
	tableName string
}

// NewCourseRepository creates a CourseRepository on an existing DynamoDB client.
func NewCourseRepository(client DynamoDBAPI, tableName string) *CourseRepository {
	return &CourseRepository{
		client:    client,
		tableName: tableName,
	}
}

// CreateCourse stores a new course. ID, Order and CreatedAt must be set.
func (r *CourseRepository) CreateCourse(ctx context.Context, course *models.Course) error {
	course.PK = CoursesPK
	course.SK = courseSK(course.ID)

	item, err := attributevalue.MarshalMap(course)
	if err != nil {
		return fmt.Errorf("failed to marshal course: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("course already exists: %s", course.ID)
		}
		return fmt.Errorf("failed to create course: %w", err)
	}

	return nil
}

// GetCourse retrieves a course by ID.
func (r *CourseRepository) GetCourse(ctx context.Context, id string) (*models.Course, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            itemKey(CoursesPK, courseSK(id)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get course: %w", err)
	}

	if result.Item == nil {
		return nil, models.ErrCourseNotFound
	}

	var course models.Course
	if err := attributevalue.UnmarshalMap(result.Item, &course); err != nil {
		return nil, fmt.Errorf("failed to unmarshal course: %w", err)
	}

	return &course, nil
}

// ListCourses returns all courses, or only published ones. Results are unsorted.
func (r *CourseRepository) ListCourses(ctx context.Context, publishedOnly bool) ([]models.Course, error) {
	return queryPartition[models.Course](ctx, r.client, r.tableName, CoursesPK, courseSKPrefix, publishedOnly)
}

// UpdateCourse persists the editable fields of a course. The video count is
// owned by SetVideoCount and is left untouched.
func (r *CourseRepository) UpdateCourse(ctx context.Context, course *models.Course) error {
	course.UpdatedAt = models.Timestamp(time.Now())

	input := newUpdate().
		setString("title", course.Title).
		setString("description", course.Description).
		setString("category", course.Category).
		setString("thumbnail_url", course.ThumbnailURL).
		setString("thumbnail_key", course.ThumbnailKey).
		setBool("is_published", course.IsPublished).
		setInt("order", course.Order).
		setString("updated_at", course.UpdatedAt).
		input(r.tableName, CoursesPK, courseSK(course.ID))

	return r.update(ctx, input)
}

// SetCourseOrder sets the display position of a course.
func (r *CourseRepository) SetCourseOrder(ctx context.Context, id string, order int) error {
	input := newUpdate().
		setInt("order", order).
		setString("updated_at", models.Timestamp(time.Now())).
		input(r.tableName, CoursesPK, courseSK(id))

	return r.update(ctx, input)
}

// SetVideoCount stores the materialized video count of a course.
func (r *CourseRepository) SetVideoCount(ctx context.Context, id string, count int) error {
	input := newUpdate().
		setInt("video_count", count).
		input(r.tableName, CoursesPK, courseSK(id))

	return r.update(ctx, input)
}

// DeleteCourse removes a course record.
func (r *CourseRepository) DeleteCourse(ctx context.Context, id string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 itemKey(CoursesPK, courseSK(id)),
		ConditionExpression: aws.String("attribute_exists(pk)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return models.ErrCourseNotFound
		}
		return fmt.Errorf("failed to delete course: %w", err)
	}
	return nil
}

func (r *CourseRepository) update(ctx context.Context, input *dynamodb.UpdateItemInput) error {
	_, err := r.client.UpdateItem(ctx, input)
	if err != nil {
		if isConditionFailed(err) {
			return models.ErrCourseNotFound
		}
		return fmt.Errorf("failed to update course: %w", err)
	}
	return nil
}
