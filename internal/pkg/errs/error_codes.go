/*
Package errs provides the application error type and its code table.

Codes travel in the "code" field of every JSON response envelope, so the
server and the chat client agree on them.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body JSON format is incorrect.
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates that the request body contained extra content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrFormParseFailed indicates failure to parse multipart or URL-encoded form data.
	ErrFormParseFailed = 1005

	// ErrRequestEntityTooLarge indicates that the request body size exceeded the server limit.
	ErrRequestEntityTooLarge = 1006

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007
)

// 2xxx: Conversation and Content Errors
const (
	// ErrPartnerNotFound indicates that the addressed conversation partner does not exist.
	ErrPartnerNotFound = 2101

	// ErrSelfConversation indicates an attempt to open a conversation with oneself.
	ErrSelfConversation = 2102

	// ErrEmptyMessage indicates a send request carrying neither text nor image.
	ErrEmptyMessage = 2201

	// ErrMessageContentTooLong indicates that the message text exceeded the maximum length.
	ErrMessageContentTooLong = 2202

	// ErrFileSizeTooLarge indicates that the attached image exceeded the size limit.
	ErrFileSizeTooLarge = 2203

	// ErrFileTypeInvalid indicates that the attachment is not an allowed image type.
	ErrFileTypeInvalid = 2204
)

// 3xxx: User, Session, and Security Errors
const (
	// ErrUnauthorized indicates a missing or invalid identity token.
	ErrUnauthorized = 3001

	// ErrInvalidUsername indicates a username that does not match the allowed pattern.
	ErrInvalidUsername = 3002

	// ErrInvalidPassword indicates a password outside the allowed length.
	ErrInvalidPassword = 3003

	// ErrUserAlreadyExists indicates a registration with a taken username.
	ErrUserAlreadyExists = 3004

	// ErrInvalidCredentials indicates a failed login.
	ErrInvalidCredentials = 3005

	// ErrInvalidRole indicates an unknown role tag.
	ErrInvalidRole = 3006

	// ErrSessionReplaced is sent when a newer realtime connection for the same user takes over.
	ErrSessionReplaced = 3007

	// ErrIdentityMismatch indicates a token that belongs to a different user than the request names.
	ErrIdentityMismatch = 3008
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrFileStorageFailed indicates the object storage rejected an upload or presign request.
	ErrFileStorageFailed = 5001
)
