package models

// Admin is a privileged console user.
type Admin struct {
	PK string `dynamodbav:"pk" json:"-"`
	SK string `dynamodbav:"sk" json:"-"`

	Username     string `dynamodbav:"username" json:"username"`
	PasswordHash string `dynamodbav:"password_hash" json:"-"`
	Email        string `dynamodbav:"email,omitempty" json:"email,omitempty"`
	LastLogin    string `dynamodbav:"last_login,omitempty" json:"lastLogin,omitempty"`
	CreatedAt    string `dynamodbav:"created_at" json:"createdAt"`
	UpdatedAt    string `dynamodbav:"updated_at" json:"updatedAt"`
}
