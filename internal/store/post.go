package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/JAGGU8160/blog-app/types"
)

// PostRepository handles persistence for posts.
type PostRepository struct {
	db *sql.DB
}

func NewPostRepository(db *sql.DB) *PostRepository {
	return &PostRepository{db: db}
}

// postColumns selects a post joined with its author's name. Queries using it
// must alias the post relation as p and join users as u.
const postColumns = `p.id, p.user_id, p.title, p.slug, p.content, p.image_url, p.category, p.created_at, u.name`

func (r *PostRepository) List(ctx context.Context) ([]types.Post, error) {
	const query = `
		SELECT ` + postColumns + `
		FROM posts p
		JOIN users u ON u.id = p.user_id
		ORDER BY p.created_at DESC, p.id DESC`
	return r.queryPosts(ctx, query)
}

func (r *PostRepository) ListByUser(ctx context.Context, userID int) ([]types.Post, error) {
	const query = `
		SELECT ` + postColumns + `
		FROM posts p
		JOIN users u ON u.id = p.user_id
		WHERE p.user_id = $1
		ORDER BY p.created_at DESC, p.id DESC`
	return r.queryPosts(ctx, query, userID)
}

func (r *PostRepository) GetBySlug(ctx context.Context, slug string) (types.Post, error) {
	const query = `
		SELECT ` + postColumns + `
		FROM posts p
		JOIN users u ON u.id = p.user_id
		WHERE p.slug = $1`
	return scanPost(r.db.QueryRowContext(ctx, query, slug))
}

func (r *PostRepository) GetByID(ctx context.Context, id int) (types.Post, error) {
	const query = `
		SELECT ` + postColumns + `
		FROM posts p
		JOIN users u ON u.id = p.user_id
		WHERE p.id = $1`
	return scanPost(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostRepository) Create(ctx context.Context, post types.Post) (types.Post, error) {
	const query = `
		WITH p AS (
			INSERT INTO posts (user_id, title, slug, content, image_url, category)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, user_id, title, slug, content, image_url, category, created_at
		)
		SELECT ` + postColumns + `
		FROM p
		JOIN users u ON u.id = p.user_id`
	created, err := scanPost(r.db.QueryRowContext(
		ctx,
		query,
		post.UserID,
		post.Title,
		post.Slug,
		post.Content,
		post.ImageURL,
		post.Category,
	))
	if err != nil {
		return types.Post{}, translateUniqueViolation(err)
	}
	return created, nil
}

// Update writes the content fields of post. The row must belong to
// post.UserID; otherwise nothing is written and ErrNotFound is returned.
// The slug is never written.
func (r *PostRepository) Update(ctx context.Context, post types.Post) (types.Post, error) {
	const query = `
		WITH p AS (
			UPDATE posts
			SET title = $1,
				content = $2,
				image_url = $3,
				category = $4
			WHERE id = $5 AND user_id = $6
			RETURNING id, user_id, title, slug, content, image_url, category, created_at
		)
		SELECT ` + postColumns + `
		FROM p
		JOIN users u ON u.id = p.user_id`
	return scanPost(r.db.QueryRowContext(
		ctx,
		query,
		post.Title,
		post.Content,
		post.ImageURL,
		post.Category,
		post.ID,
		post.UserID,
	))
}

// Delete removes the post only when it is owned by userID and returns the
// image URL it carried, if any.
func (r *PostRepository) Delete(ctx context.Context, id, userID int) (*string, error) {
	const query = `DELETE FROM posts WHERE id = $1 AND user_id = $2 RETURNING image_url`
	var imageURL sql.NullString
	if err := r.db.QueryRowContext(ctx, query, id, userID).Scan(&imageURL); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !imageURL.Valid {
		return nil, nil
	}
	return &imageURL.String, nil
}

func (r *PostRepository) Exists(ctx context.Context, id int) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM posts WHERE id = $1)`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *PostRepository) queryPosts(ctx context.Context, query string, args ...any) ([]types.Post, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	posts := make([]types.Post, 0)
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return posts, nil
}

func scanPost(row rowScanner) (types.Post, error) {
	var post types.Post
	err := row.Scan(
		&post.ID,
		&post.UserID,
		&post.Title,
		&post.Slug,
		&post.Content,
		&post.ImageURL,
		&post.Category,
		&post.CreatedAt,
		&post.Author,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Post{}, ErrNotFound
		}
		return types.Post{}, err
	}
	return post, nil
}
