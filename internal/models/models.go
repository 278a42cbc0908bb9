package models

import "time"

type User struct {
	ID           int64
	Name         string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

type Session struct {
	ID        string
	UserID    int64
	ExpiresAt time.Time
	CreatedAt time.Time
}

type Post struct {
	ID         int64
	Title      string
	Subtitle   string
	Body       string
	ImgURL     string
	Date       string // display date stamped at creation, e.g. "April 05, 2024"
	AuthorName string
	AuthorID   int64
}

type Comment struct {
	ID     int64
	PostID int64
	UserID int64
	Body   string
	Author string // commenter display name, filled by the join
}
