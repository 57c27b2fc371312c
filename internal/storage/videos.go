package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/amillerrr/lms-catalog/pkg/models"
)

// videoLookup maps a video id to the course partition holding the video.
type videoLookup struct {
	PK       string `dynamodbav:"pk"`
	SK       string `dynamodbav:"sk"`
	ID       string `dynamodbav:"id"`
	CourseID string `dynamodbav:"course_id"`
}

// VideoRepository handles video records in DynamoDB. A video lives in the
// partition of its course, next to a lookup item keyed by its id.
type VideoRepository struct {
	client    DynamoDBAPI
	tableName string
}

// NewVideoRepository creates a VideoRepository on an existing DynamoDB client.
func NewVideoRepository(client DynamoDBAPI, tableName string) *VideoRepository {
	return &VideoRepository{
		client:    client,
		tableName: tableName,
	}
}

// CreateVideo stores a new video and its lookup item in one transaction.
// ID, CourseID, Order and CreatedAt must be set. The course must exist.
func (r *VideoRepository) CreateVideo(ctx context.Context, video *models.Video) error {
	video.PK = courseVideosPK(video.CourseID)
	video.SK = videoSK(video.ID)

	item, err := attributevalue.MarshalMap(video)
	if err != nil {
		return fmt.Errorf("failed to marshal video: %w", err)
	}
	lookup, err := attributevalue.MarshalMap(videoLookup{
		PK:       videoLookupPK(video.ID),
		SK:       MetadataSK,
		ID:       video.ID,
		CourseID: video.CourseID,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal video lookup: %w", err)
	}

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{ConditionCheck: &types.ConditionCheck{
				TableName:           aws.String(r.tableName),
				Key:                 itemKey(CoursesPK, courseSK(video.CourseID)),
				ConditionExpression: aws.String("attribute_exists(pk)"),
			}},
			{Put: &types.Put{
				TableName:           aws.String(r.tableName),
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(pk)"),
			}},
			{Put: &types.Put{
				TableName:           aws.String(r.tableName),
				Item:                lookup,
				ConditionExpression: aws.String("attribute_not_exists(pk)"),
			}},
		},
	})
	switch failedCondition(err) {
	case -1:
	case 0:
		return models.ErrCourseNotFound
	default:
		return fmt.Errorf("video already exists: %s", video.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to create video: %w", err)
	}

	return nil
}

// courseOf returns the course id of a video from its lookup item.
func (r *VideoRepository) courseOf(ctx context.Context, id string) (string, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            itemKey(videoLookupPK(id), MetadataSK),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("failed to look up video: %w", err)
	}
	if result.Item == nil {
		return "", models.ErrVideoNotFound
	}

	var lookup videoLookup
	if err := attributevalue.UnmarshalMap(result.Item, &lookup); err != nil {
		return "", fmt.Errorf("failed to unmarshal video lookup: %w", err)
	}
	return lookup.CourseID, nil
}

// GetVideo retrieves a video by ID.
func (r *VideoRepository) GetVideo(ctx context.Context, id string) (*models.Video, error) {
	courseID, err := r.courseOf(ctx, id)
	if err != nil {
		return nil, err
	}

	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            itemKey(courseVideosPK(courseID), videoSK(id)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get video: %w", err)
	}

	if result.Item == nil {
		return nil, models.ErrVideoNotFound
	}

	var video models.Video
	if err := attributevalue.UnmarshalMap(result.Item, &video); err != nil {
		return nil, fmt.Errorf("failed to unmarshal video: %w", err)
	}

	return &video, nil
}

// ListVideosByCourse returns the videos of a course, or only published ones.
// Results are unsorted.
func (r *VideoRepository) ListVideosByCourse(ctx context.Context, courseID string, publishedOnly bool) ([]models.Video, error) {
	return queryPartition[models.Video](ctx, r.client, r.tableName, courseVideosPK(courseID), videoSKPrefix, publishedOnly)
}

// CountVideos counts the videos of a course regardless of publish state.
func (r *VideoRepository) CountVideos(ctx context.Context, courseID string) (int, error) {
	return countPartition(ctx, r.client, r.tableName, courseVideosPK(courseID), videoSKPrefix)
}

// UpdateVideo persists the editable fields of a video. CourseID must be set.
func (r *VideoRepository) UpdateVideo(ctx context.Context, video *models.Video) error {
	video.UpdatedAt = models.Timestamp(time.Now())

	input := newUpdate().
		setString("title", video.Title).
		setString("description", video.Description).
		setInt("order", video.Order).
		setString("video_key", video.VideoKey).
		setString("video_url", video.VideoURL).
		setString("video_duration", video.VideoDuration).
		setString("notes_key", video.NotesKey).
		setString("notes_url", video.NotesURL).
		setString("notes_title", video.NotesTitle).
		setString("thumbnail", video.Thumbnail).
		setBool("is_published", video.IsPublished).
		setString("updated_at", video.UpdatedAt).
		input(r.tableName, courseVideosPK(video.CourseID), videoSK(video.ID))

	return r.update(ctx, input)
}

// SetVideoOrder sets the display position of a video within its course.
func (r *VideoRepository) SetVideoOrder(ctx context.Context, id string, order int) error {
	courseID, err := r.courseOf(ctx, id)
	if err != nil {
		return err
	}

	input := newUpdate().
		setInt("order", order).
		setString("updated_at", models.Timestamp(time.Now())).
		input(r.tableName, courseVideosPK(courseID), videoSK(id))

	return r.update(ctx, input)
}

// DeleteVideo removes a video and its lookup item.
func (r *VideoRepository) DeleteVideo(ctx context.Context, id string) error {
	courseID, err := r.courseOf(ctx, id)
	if err != nil {
		return err
	}

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Delete: &types.Delete{
				TableName:           aws.String(r.tableName),
				Key:                 itemKey(courseVideosPK(courseID), videoSK(id)),
				ConditionExpression: aws.String("attribute_exists(pk)"),
			}},
			{Delete: &types.Delete{
				TableName: aws.String(r.tableName),
				Key:       itemKey(videoLookupPK(id), MetadataSK),
			}},
		},
	})
	if failedCondition(err) >= 0 {
		return models.ErrVideoNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete video: %w", err)
	}
	return nil
}

// DeleteVideosByCourse removes every video of a course and returns the
// removed records so their blobs can be cleaned up.
func (r *VideoRepository) DeleteVideosByCourse(ctx context.Context, courseID string) ([]models.Video, error) {
	videos, err := r.ListVideosByCourse(ctx, courseID, false)
	if err != nil {
		return nil, err
	}

	keys := make([]map[string]types.AttributeValue, 0, 2*len(videos))
	for _, v := range videos {
		keys = append(keys,
			itemKey(courseVideosPK(courseID), videoSK(v.ID)),
			itemKey(videoLookupPK(v.ID), MetadataSK),
		)
	}

	if err := batchDelete(ctx, r.client, r.tableName, keys); err != nil {
		return nil, fmt.Errorf("failed to delete videos of course %s: %w", courseID, err)
	}

	return videos, nil
}

func (r *VideoRepository) update(ctx context.Context, input *dynamodb.UpdateItemInput) error {
	_, err := r.client.UpdateItem(ctx, input)
	if err != nil {
		if isConditionFailed(err) {
			return models.ErrVideoNotFound
		}
		return fmt.Errorf("failed to update video: %w", err)
	}
	return nil
}
