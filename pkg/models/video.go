package models

import (
	"path/filepath"
	"strings"
)

// Video is a lesson belonging to exactly one course.
type Video struct {
	// Keys
	PK string `dynamodbav:"pk" json:"-"`
	SK string `dynamodbav:"sk" json:"-"`

	// Attributes
	ID            string `dynamodbav:"id" json:"id"`
	CourseID      string `dynamodbav:"course_id" json:"courseId"`
	Title         string `dynamodbav:"title" json:"title"`
	Description   string `dynamodbav:"description,omitempty" json:"description,omitempty"`
	Order         int    `dynamodbav:"order" json:"order"`
	VideoKey      string `dynamodbav:"video_key" json:"videoKey"`
	VideoURL      string `dynamodbav:"video_url,omitempty" json:"videoUrl,omitempty"`
	VideoDuration string `dynamodbav:"video_duration,omitempty" json:"videoDuration,omitempty"`
	NotesKey      string `dynamodbav:"notes_key,omitempty" json:"notesKey,omitempty"`
	NotesURL      string `dynamodbav:"notes_url,omitempty" json:"notesUrl,omitempty"`
	NotesTitle    string `dynamodbav:"notes_title,omitempty" json:"notesTitle,omitempty"`
	Thumbnail     string `dynamodbav:"thumbnail,omitempty" json:"thumbnail,omitempty"`
	IsPublished   bool   `dynamodbav:"is_published" json:"isPublished"`
	CreatedAt     string `dynamodbav:"created_at" json:"createdAt"`
	UpdatedAt     string `dynamodbav:"updated_at" json:"updatedAt"`
}

// VideoRef is a short reference to a sibling video.
type VideoRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Order int    `json:"order"`
}

// VideoDetail is a video with links to its neighbours in the course order.
type VideoDetail struct {
	Video
	CourseTitle string    `json:"courseTitle,omitempty"`
	PrevVideo   *VideoRef `json:"prevVideo"`
	NextVideo   *VideoRef `json:"nextVideo"`
}

// Ref returns the short reference for v.
func (v *Video) Ref() *VideoRef {
	return &VideoRef{ID: v.ID, Title: v.Title, Order: v.Order}
}

// SortKey returns the video order used for display sorting.
func (v *Video) SortKey() (int, string) {
	return v.Order, v.CreatedAt
}

// TitleFromFilename returns the base name of filename without its extension.
func TitleFromFilename(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
