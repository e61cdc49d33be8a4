package handler

import (
	"net/http"

	"edchat/internal/app/message"
	"edchat/internal/pkg/errs"
	"edchat/internal/pkg/logx"
	"edchat/internal/pkg/randx"
	"edchat/internal/pkg/resp"
)

// HandleImageDownload redirects to a time-limited presigned URL for the image
// stored under the "k" query parameter.
func HandleImageDownload(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fileKey := r.URL.Query().Get("k")
		if !randx.IsImageKey(fileKey) {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		if deps.Storage == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrFileStorageFailed))
			return
		}

		url, err := deps.Storage.PresignDownload(r.Context(), fileKey, message.ImageURLDuration)
		if err != nil {
			logx.Error(err, "presign download failed", "key", fileKey)
			resp.RespondError(w, r, errs.NewError(errs.ErrFileStorageFailed))
			return
		}

		http.Redirect(w, r, url, http.StatusFound)
	}
}
