package models

// Course is an ordered, publishable collection of videos.
type Course struct {
	// Keys
	PK string `dynamodbav:"pk" json:"-"`
	SK string `dynamodbav:"sk" json:"-"`

	// Attributes
	ID           string `dynamodbav:"id" json:"id"`
	Title        string `dynamodbav:"title" json:"title"`
	Description  string `dynamodbav:"description,omitempty" json:"description,omitempty"`
	Category     string `dynamodbav:"category,omitempty" json:"category,omitempty"`
	ThumbnailURL string `dynamodbav:"thumbnail_url,omitempty" json:"thumbnail,omitempty"`
	ThumbnailKey string `dynamodbav:"thumbnail_key,omitempty" json:"-"`
	IsPublished  bool   `dynamodbav:"is_published" json:"isPublished"`
	Order        int    `dynamodbav:"order" json:"order"`
	VideoCount   int    `dynamodbav:"video_count" json:"videoCount"`
	CreatedAt    string `dynamodbav:"created_at" json:"createdAt"`
	UpdatedAt    string `dynamodbav:"updated_at" json:"updatedAt"`
}

// CourseDetail is a course together with its ordered videos.
type CourseDetail struct {
	Course
	Videos []Video `json:"videos"`
}

// SortKey returns the course order used for display sorting.
func (c *Course) SortKey() (int, string) {
	return c.Order, c.CreatedAt
}
