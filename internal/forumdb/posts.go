package forumdb

import (
	"context"
	"database/sql"
	"time"
)

// Post is one forum post row with its author's nickname joined in.
type Post struct {
	ID        int64
	AuthorID  int64
	Author    string
	Title     string
	Content   string
	CreatedAt time.Time
}

// Comment is one comment row with its author's nickname joined in.
type Comment struct {
	ID        int64
	PostID    int64
	AuthorID  int64
	Author    string
	Content   string
	CreatedAt time.Time
}

// Posts reads and writes the forum feed tables.
type Posts struct {
	DB *sql.DB
}

// Insert persists one post.
func (p *Posts) Insert(ctx context.Context, authorID int64, title, content string) (Post, error) {
	post := Post{AuthorID: authorID, Title: title, Content: content}
	err := p.DB.QueryRowContext(ctx,
		`INSERT INTO posts (author_id, title, content) VALUES ($1, $2, $3) RETURNING id, created_at`,
		authorID, title, content).Scan(&post.ID, &post.CreatedAt)
	return post, err
}

// List returns the feed, newest first.
func (p *Posts) List(ctx context.Context, limit int) ([]Post, error) {
	rows, err := p.DB.QueryContext(ctx,
		`SELECT p.id, p.author_id, u.nickname, p.title, p.content, p.created_at
		 FROM posts p JOIN users u ON u.id = p.author_id
		 ORDER BY p.created_at DESC, p.id DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Post
	for rows.Next() {
		var post Post
		if err := rows.Scan(&post.ID, &post.AuthorID, &post.Author, &post.Title, &post.Content, &post.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, post)
	}
	return out, rows.Err()
}

// InsertComment persists one comment under a post.
func (p *Posts) InsertComment(ctx context.Context, postID, authorID int64, content string) (Comment, error) {
	comment := Comment{PostID: postID, AuthorID: authorID, Content: content}
	err := p.DB.QueryRowContext(ctx,
		`INSERT INTO comments (post_id, author_id, content) VALUES ($1, $2, $3) RETURNING id, created_at`,
		postID, authorID, content).Scan(&comment.ID, &comment.CreatedAt)
	return comment, err
}

// CommentsByPost lists the comments under a post, oldest first.
func (p *Posts) CommentsByPost(ctx context.Context, postID int64) ([]Comment, error) {
	rows, err := p.DB.QueryContext(ctx,
		`SELECT c.id, c.post_id, c.author_id, u.nickname, c.content, c.created_at
		 FROM comments c JOIN users u ON u.id = c.author_id
		 WHERE c.post_id=$1
		 ORDER BY c.created_at ASC, c.id ASC`, postID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Comment
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.PostID, &c.AuthorID, &c.Author, &c.Content, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// PostExists reports whether a post id is valid, for comment validation.
func (p *Posts) PostExists(ctx context.Context, postID int64) (bool, error) {
	var one int
	err := p.DB.QueryRowContext(ctx, `SELECT 1 FROM posts WHERE id=$1`, postID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
