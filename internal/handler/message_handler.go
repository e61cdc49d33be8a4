package handler

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"edchat/internal/app/db"
	"edchat/internal/app/message"
	"edchat/internal/app/user"
	"edchat/internal/pkg/auth/jwt"
	"edchat/internal/pkg/errs"
	"edchat/internal/pkg/logx"
	"edchat/internal/pkg/metrics"
	"edchat/internal/pkg/randx"
	"edchat/internal/pkg/req"
	"edchat/internal/pkg/resp"
)

// HandleListUsers returns every user except the caller.
func HandleListUsers(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)

		rows, err := deps.Users.ListUsersExcept(r.Context(), identity.ID)
		if err != nil {
			logx.Error(err, "list users failed", "user_id", identity.ID)
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		users := make([]user.User, 0, len(rows))
		for _, row := range rows {
			users = append(users, toUser(row))
		}

		resp.RespondSuccess(w, r, users)
	}
}

// HandleGetMessages returns the conversation between the caller and
// {partnerId}, oldest first.
func HandleGetMessages(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)

		partnerID, customErr := partnerParam(r, identity.ID)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		rows, err := deps.Messages.ListConversation(r.Context(), identity.ID, partnerID)
		if err != nil {
			logx.Error(err, "list conversation failed", "user_id", identity.ID, "partner_id", partnerID)
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		messages := make([]message.Message, 0, len(rows))
		for _, row := range rows {
			messages = append(messages, toMessage(row))
		}

		resp.RespondSuccess(w, r, messages)
	}
}

// HandleSendMessage stores a message from the caller to {partnerId} and
// pushes it to the partner's realtime connection. The multipart form carries
// an optional "text" field and an optional "image" file; at least one is
// required.
func HandleSendMessage(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)

		partnerID, customErr := partnerParam(r, identity.ID)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if customErr := req.SetupMultipart(w, r); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}
		defer func() {
			if err := r.MultipartForm.RemoveAll(); err != nil {
				logx.Warn("failed to remove multipart temp files", "error", err.Error())
			}
		}()

		text := strings.TrimSpace(r.FormValue("text"))
		if len(text) > message.MaxTextBytes {
			resp.RespondError(w, r, errs.NewError(errs.ErrMessageContentTooLong))
			return
		}

		image := req.OptionalFile(r, "image")
		if image != nil {
			if customErr := message.ValidateImageSize(image.Size); customErr != nil {
				resp.RespondError(w, r, customErr)
				return
			}
			if customErr := message.ValidateImageType(image.Filename, image.Header.Get("Content-Type")); customErr != nil {
				resp.RespondError(w, r, customErr)
				return
			}
			if deps.Storage == nil {
				logx.Warn("image send refused: object storage not configured", "user_id", identity.ID)
				resp.RespondError(w, r, errs.NewError(errs.ErrFileStorageFailed))
				return
			}
		}

		if text == "" && image == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrEmptyMessage))
			return
		}

		if _, err := deps.Users.GetUserByID(r.Context(), partnerID); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				resp.RespondError(w, r, errs.NewError(errs.ErrPartnerNotFound))
				return
			}
			logx.Error(err, "partner lookup failed", "partner_id", partnerID)
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		var imageKey string
		if image != nil {
			key, customErr := uploadImage(r.Context(), deps, identity.ID, image)
			if customErr != nil {
				resp.RespondError(w, r, customErr)
				return
			}
			imageKey = key
		}

		row, err := deps.Messages.CreateMessage(r.Context(), db.CreateMessageParams{
			ID:         randx.MessageID(),
			SenderID:   identity.ID,
			ReceiverID: partnerID,
			Text:       text,
			ImageKey:   imageKey,
		})
		if err != nil {
			if imageKey != "" {
				if delErr := deps.Storage.Delete(context.WithoutCancel(r.Context()), imageKey); delErr != nil {
					logx.Error(delErr, "failed to roll back image upload", "key", imageKey)
				}
			}

			if db.IsForeignKeyViolation(err) {
				resp.RespondError(w, r, errs.NewError(errs.ErrPartnerNotFound))
				return
			}

			logx.Error(err, "failed to store message", "sender_id", identity.ID, "receiver_id", partnerID)
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		m := toMessage(row)
		deps.Hub.Deliver(partnerID, m)
		metrics.IncMessageSent(m.Kind())

		resp.RespondCreated(w, r, m)
	}
}

func partnerParam(r *http.Request, selfID string) (string, *errs.CustomError) {
	partnerID := chi.URLParam(r, "partnerId")
	if !randx.IsValidID(partnerID) {
		return "", errs.NewError(errs.ErrInvalidParams)
	}
	if partnerID == selfID {
		return "", errs.NewError(errs.ErrSelfConversation)
	}
	return partnerID, nil
}

func uploadImage(ctx context.Context, deps *AppDeps, senderID string, fh *multipart.FileHeader) (string, *errs.CustomError) {
	file, err := fh.Open()
	if err != nil {
		logx.Error(err, "failed to open uploaded image")
		return "", errs.NewError(errs.ErrFormParseFailed)
	}
	defer file.Close()

	key := randx.ImageKey(senderID, filepath.Ext(fh.Filename))
	if err := deps.Storage.Upload(ctx, key, fh.Header.Get("Content-Type"), file); err != nil {
		logx.Error(err, "image upload failed", "key", key)
		return "", errs.NewError(errs.ErrFileStorageFailed)
	}

	return key, nil
}
