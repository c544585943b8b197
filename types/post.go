package types

import "time"

// DefaultCategory is assigned to posts created without a category.
const DefaultCategory = "General"

// Post represents a blog post owned by a single user.
type Post struct {
	// ID is the unique identifier of the post.
	ID int `json:"id" db:"id"`

	// UserID identifies the owner. Only the owner may edit or delete the post.
	UserID int `json:"user_id" db:"user_id"`

	// Title is the human-readable headline.
	Title string `json:"title" db:"title"`

	// Slug is the URL-safe identifier derived from the title at creation.
	// It is unique and never changes afterwards, even if the title does.
	Slug string `json:"slug" db:"slug"`

	// Content is the Markdown body as written by the author.
	Content string `json:"content" db:"content"`

	// ContentHTML is Content rendered to HTML. It is computed on read and
	// not persisted.
	ContentHTML string `json:"content_html"`

	// ImageURL references an uploaded image, if any.
	ImageURL *string `json:"image_url" db:"image_url"`

	// Category is a free-form label, DefaultCategory when not given.
	Category string `json:"category" db:"category"`

	// CreatedAt is the timestamp at which the post was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// Author is the owner's display name. It is populated by read queries
	// that join users.
	Author string `json:"author" db:"author"`
}

// PostPatch carries a partial update. Nil fields keep their stored value.
type PostPatch struct {
	Title    *string
	Content  *string
	ImageURL *string
	Category *string
}
