package handler

import (
	"context"
	"net/url"

	"edchat/internal/app/chat"
	"edchat/internal/app/db"
	"edchat/internal/app/message"
	"edchat/internal/app/storage"
	"edchat/internal/app/user"
	"edchat/internal/configs"
)

// UserRepository is the subset of db.Queries the handlers use for accounts.
type UserRepository interface {
	CreateUser(ctx context.Context, p db.CreateUserParams) (db.UserRow, error)
	GetUserByUsername(ctx context.Context, username string) (db.UserRow, error)
	GetUserByID(ctx context.Context, id string) (db.UserRow, error)
	ListUsersExcept(ctx context.Context, excludeID string) ([]db.UserRow, error)
}

// MessageRepository is the subset of db.Queries the handlers use for messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, p db.CreateMessageParams) (db.MessageRow, error)
	ListConversation(ctx context.Context, a, b string) ([]db.MessageRow, error)
}

// AppDeps bundles everything the handlers need.
type AppDeps struct {
	Hub      *chat.Hub
	Config   *configs.AppConfig
	Users    UserRepository
	Messages MessageRepository

	// Storage is nil when no bucket is configured; image sends are then refused.
	Storage storage.StorageService
}

// ImageURL is the download path served by HandleImageDownload for key.
func ImageURL(key string) string {
	if key == "" {
		return ""
	}
	return "/api/file/download?k=" + url.QueryEscape(key)
}

func toUser(row db.UserRow) user.User {
	return user.User{
		ID:     row.ID,
		Name:   row.DisplayName,
		Avatar: row.AvatarURL,
		Role:   row.Role,
	}
}

func toMessage(row db.MessageRow) message.Message {
	return message.Message{
		ID:         row.ID,
		SenderID:   row.SenderID,
		ReceiverID: row.ReceiverID,
		Text:       row.Text,
		Image:      ImageURL(row.ImageKey),
		CreatedAt:  row.CreatedAt,
	}
}
