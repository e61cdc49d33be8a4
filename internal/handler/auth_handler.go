/*
Package handler provides the HTTP handlers and routing of the chat server.
*/
package handler

import (
	"errors"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"edchat/internal/app/db"
	"edchat/internal/app/user"
	"edchat/internal/pkg/auth/jwt"
	"edchat/internal/pkg/errs"
	"edchat/internal/pkg/logx"
	"edchat/internal/pkg/randx"
	"edchat/internal/pkg/req"
	"edchat/internal/pkg/resp"
)

const maxDisplayNameRunes = 32

var (
	usernameRegex = regexp.MustCompile(`^[a-z0-9_]{4,20}$`)
)

type RegisterInput struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
}

// AuthResult is the data of a successful register or login response.
type AuthResult struct {
	Token string    `json:"token"`
	User  user.User `json:"user"`
}

// HandleRegister creates an account and returns a token for it.
func HandleRegister(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input RegisterInput
		if customErr := req.BindJSON(r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if !usernameRegex.MatchString(input.Username) {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidUsername))
			return
		}

		passwordLen := utf8.RuneCountInString(input.Password)
		if passwordLen < 6 || passwordLen > 50 {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidPassword))
			return
		}

		role := input.Role
		if role == "" {
			role = user.RoleStudent
		}
		if !user.ValidRole(role) {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidRole))
			return
		}

		displayName := strings.TrimSpace(input.DisplayName)
		if utf8.RuneCountInString(displayName) > maxDisplayNameRunes {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}
		if displayName == "" {
			generated, err := randx.DisplayName()
			if err != nil {
				generated = "User_X"
			}
			displayName = generated
		}

		hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		row, err := deps.Users.CreateUser(r.Context(), db.CreateUserParams{
			Username:     input.Username,
			PasswordHash: string(hashedPassword),
			DisplayName:  displayName,
			Role:         role,
		})
		if err != nil {
			if db.IsUniqueViolation(err) {
				logx.Warn("registration conflict: username already exists", "username", input.Username)
				resp.RespondError(w, r, errs.NewError(errs.ErrUserAlreadyExists))
				return
			}

			logx.Error(err, "failed to create user in database")
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		result, customErr := issueToken(deps, row)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		resp.RespondCreated(w, r, result)
	}
}

type LoginInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// HandleLogin verifies user credentials and issues a JWT token.
func HandleLogin(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input LoginInput
		if customErr := req.BindJSON(r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		row, err := deps.Users.GetUserByUsername(r.Context(), input.Username)
		if err != nil {
			if !errors.Is(err, db.ErrNotFound) {
				logx.Error(err, "login: user fetch failed", "username", input.Username)
			}
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidCredentials))
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(row.PasswordHash), []byte(input.Password)); err != nil {
			logx.Warn("login: password mismatch", "username", input.Username)
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidCredentials))
			return
		}

		result, customErr := issueToken(deps, row)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		resp.RespondSuccess(w, r, result)
	}
}

func issueToken(deps *AppDeps, row db.UserRow) (*AuthResult, *errs.CustomError) {
	payload := &jwt.Payload{
		ID:   row.ID,
		Role: row.Role,
		Name: row.DisplayName,
	}

	token, err := jwt.GenerateToken(payload, deps.Config.JWTSecret, jwt.UserIdentityExpiration)
	if err != nil {
		logx.Error(err, "jwt generation failed", "user_id", row.ID)
		return nil, errs.NewError(errs.ErrUnknown)
	}

	return &AuthResult{Token: token, User: toUser(row)}, nil
}
