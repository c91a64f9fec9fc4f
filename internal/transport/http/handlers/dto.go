package handlers

import (
	"github.com/pribylovaa/recycle-communities/internal/models"
	"github.com/pribylovaa/recycle-communities/internal/service"
)

// CreateCommunityRequest - тело POST /communities.
type CreateCommunityRequest struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Category    models.Category      `json:"category,omitempty"`
	Type        models.CommunityType `json:"community_type,omitempty"`
	Rules       []string             `json:"rules,omitempty"`
	Tags        []string             `json:"tags,omitempty"`
	BannerURL   string               `json:"banner_url,omitempty"`
	IconURL     string               `json:"icon_url,omitempty"`
}

func (in CreateCommunityRequest) toService() service.CreateCommunityInput {
	return service.CreateCommunityInput{
		Name:        in.Name,
		Description: in.Description,
		Category:    in.Category,
		Type:        in.Type,
		Rules:       in.Rules,
		Tags:        in.Tags,
		BannerURL:   in.BannerURL,
		IconURL:     in.IconURL,
	}
}

// UpdateCommunityRequest - тело PATCH /communities/{id}; отсутствующие поля не меняются.
type UpdateCommunityRequest struct {
	Description *string               `json:"description,omitempty"`
	Rules       *[]string             `json:"rules,omitempty"`
	Tags        *[]string             `json:"tags,omitempty"`
	BannerURL   *string               `json:"banner_url,omitempty"`
	IconURL     *string               `json:"icon_url,omitempty"`
	Type        *models.CommunityType `json:"community_type,omitempty"`
}

func (in UpdateCommunityRequest) toService() service.CommunityPatch {
	return service.CommunityPatch{
		Description: in.Description,
		Rules:       in.Rules,
		Tags:        in.Tags,
		BannerURL:   in.BannerURL,
		IconURL:     in.IconURL,
		Type:        in.Type,
	}
}

// PreferenceRequest - тело join и смены настройки уведомлений.
type PreferenceRequest struct {
	NotificationPreference models.NotificationPreference `json:"notification_preference"`
}

// CreatePostRequest - тело POST /posts. Пустой community_id - глобальная лента.
type CreatePostRequest struct {
	Title       string          `json:"title"`
	Content     string          `json:"content,omitempty"`
	Category    models.Category `json:"category"`
	CommunityID string          `json:"community_id,omitempty"`
	ImageURL    string          `json:"image_url,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
	IsTip       bool            `json:"is_tip,omitempty"`
}

func (in CreatePostRequest) toService() service.CreatePostInput {
	return service.CreatePostInput{
		Title:       in.Title,
		Content:     in.Content,
		Category:    in.Category,
		CommunityID: in.CommunityID,
		ImageURL:    in.ImageURL,
		Tags:        in.Tags,
		IsTip:       in.IsTip,
	}
}

// VoteRequest - тело POST /posts/{id}/vote.
type VoteRequest struct {
	VoteType models.VoteType `json:"vote_type"`
}

// VoteResponse - текущий голос пользователя; пустой vote_type - голоса нет.
type VoteResponse struct {
	PostID   string          `json:"post_id"`
	VoteType models.VoteType `json:"vote_type"`
}

// AddCommentRequest - тело POST /posts/{id}/comments.
type AddCommentRequest struct {
	ParentID string `json:"parent_id,omitempty"`
	Content  string `json:"content"`
}

type CommunitiesResponse struct {
	Communities []models.Community `json:"communities"`
}

type MembersResponse struct {
	Members []models.Membership `json:"members"`
}

type MembershipResponse struct {
	Member     bool               `json:"member"`
	Membership *models.Membership `json:"membership,omitempty"`
}

type PostsResponse struct {
	Posts []models.Post `json:"posts"`
}

type CommentsResponse struct {
	Comments []*models.Comment `json:"comments"`
}

type NotificationsResponse struct {
	Notifications []models.Notification `json:"notifications"`
}

type UnreadCountResponse struct {
	Unread int64 `json:"unread"`
}

type MarkAllResponse struct {
	Updated int64 `json:"updated"`
}

// WSMessage - кадр websocket-подписки: type=notifications несёт страницу, type=error - причину закрытия.
type WSMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
