package models

import (
	"time"
)

// VoteKind 投票类型
type VoteKind string

const (
	VoteLike   VoteKind = "like"
	VoteUpvote VoteKind = "upvote"
)

// Field 返回投票类型对应的计数字段名
func (k VoteKind) Field() string {
	switch k {
	case VoteLike:
		return FieldLikes
	case VoteUpvote:
		return FieldUpvotes
	}
	return ""
}

// VoteAction 投票动作
type VoteAction string

const (
	ActionAdd    VoteAction = "add"
	ActionRemove VoteAction = "remove"
)

// 计数字段（同时也是数据库列名）
const (
	FieldLikes   = "likes"
	FieldUpvotes = "upvotes"
)

type Comment struct {
	ID        string    `gorm:"primaryKey;size:36" json:"_id"`
	Rev       string    `gorm:"size:36;not null" json:"_rev"`       // revision token, changes on every write
	Version   int64     `gorm:"not null;default:1" json:"_version"` // 每次写入 +1，用于推送排序
	PostID    string    `gorm:"size:64;not null;index:idx_post_created" json:"postId"`
	ParentID  *string   `gorm:"size:36;index" json:"parentId,omitempty"` // Nullable for top-level comments
	Name      string    `gorm:"size:100;not null" json:"name"`
	Email     string    `gorm:"size:254;not null" json:"-"` // never sent to other clients
	Body      string    `gorm:"type:text;not null" json:"comment"`
	Approved  bool      `gorm:"not null;index" json:"approved"`
	Likes     *int      `json:"likes"`   // NULL on legacy rows, healed by the vote service
	Upvotes   *int      `json:"upvotes"` // same as Likes
	CreatedAt time.Time `gorm:"index:idx_post_created" json:"createdAt"`

	// 非数据库字段，列表接口填充
	HTML string `gorm:"-" json:"html,omitempty"`
}

// Counter 返回字段当前值；ok 为 false 表示字段缺失
func (c *Comment) Counter(field string) (value int, ok bool) {
	var p *int
	switch field {
	case FieldLikes:
		p = c.Likes
	case FieldUpvotes:
		p = c.Upvotes
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}

// SetCounter 写入计数字段
func (c *Comment) SetCounter(field string, value int) {
	v := value
	switch field {
	case FieldLikes:
		c.Likes = &v
	case FieldUpvotes:
		c.Upvotes = &v
	}
}

// Clone returns a deep copy so callers never share counter pointers.
func (c *Comment) Clone() *Comment {
	if c == nil {
		return nil
	}
	out := *c
	if c.ParentID != nil {
		p := *c.ParentID
		out.ParentID = &p
	}
	if c.Likes != nil {
		v := *c.Likes
		out.Likes = &v
	}
	if c.Upvotes != nil {
		v := *c.Upvotes
		out.Upvotes = &v
	}
	return &out
}

// IntPtr is a small helper for building counter values.
func IntPtr(v int) *int {
	return &v
}
