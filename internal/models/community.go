package models

import "time"

// CommunityType - режим видимости сообщества.
type CommunityType string

const (
	CommunityPublic     CommunityType = "public"
	CommunityRestricted CommunityType = "restricted"
	CommunityPrivate    CommunityType = "private"
)

// Valid проверяет, что тип входит в допустимый набор.
func (t CommunityType) Valid() bool {
	switch t {
	case CommunityPublic, CommunityRestricted, CommunityPrivate:
		return true
	}

	return false
}

// Category - тематика сообщества или поста (тип отходов).
type Category string

const (
	CategoryGlass    Category = "glass"
	CategoryMetal    Category = "metal"
	CategoryOrganic  Category = "organic"
	CategoryPaper    Category = "paper"
	CategoryPlastic  Category = "plastic"
	CategoryTextiles Category = "textiles"
	CategoryGeneral  Category = "general"
)

// Valid проверяет, что категория известна.
func (c Category) Valid() bool {
	switch c {
	case CategoryGlass, CategoryMetal, CategoryOrganic, CategoryPaper,
		CategoryPlastic, CategoryTextiles, CategoryGeneral:
		return true
	}

	return false
}

// Community - тематическое сообщество.
// MemberCount и PostCount денормализованы и меняются только атомарным $inc.
type Community struct {
	ID          string        `bson:"_id,omitempty" json:"id"`
	Name        string        `bson:"name" json:"name"`
	Slug        string        `bson:"slug" json:"slug"`
	Description string        `bson:"description" json:"description"`
	Category    Category      `bson:"category,omitempty" json:"category,omitempty"`
	CreatorID   string        `bson:"creator_id" json:"creator_id"`
	MemberCount int64         `bson:"member_count" json:"member_count"`
	PostCount   int64         `bson:"post_count" json:"post_count"`
	BannerURL   string        `bson:"banner_url,omitempty" json:"banner_url,omitempty"`
	IconURL     string        `bson:"icon_url,omitempty" json:"icon_url,omitempty"`
	Rules       []string      `bson:"rules" json:"rules"`
	Tags        []string      `bson:"tags" json:"tags"`
	Type        CommunityType `bson:"community_type" json:"community_type"`
	CreatedAt   time.Time     `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time     `bson:"updated_at" json:"updated_at"`
}
