/*
Package messenger is the chat client: one realtime connection per logged-in
user, the online-user set, and the message list of the conversation that is
currently open.

Session ties the parts together. Connection owns the websocket, Presence the
online set, Store the open conversation, and Subscription decides which
pushed messages reach the Store.
*/
package messenger

import "errors"

var (
	// ErrNoSession means no user is logged in, or persisted credentials are
	// missing or unreadable. Callers send the user to the login flow.
	ErrNoSession = errors.New("messenger: no session")

	// ErrNoSelection means an operation needs an open conversation.
	ErrNoSelection = errors.New("messenger: no conversation selected")

	// ErrEmptyMessage means Send got neither text nor an image.
	ErrEmptyMessage = errors.New("messenger: message has no text and no image")

	// ErrNotImage means the attachment's content type is not an accepted image type.
	ErrNotImage = errors.New("messenger: attachment is not an image")

	// ErrSelectionChanged is returned by a history load whose result was
	// discarded because another partner was selected or a newer load started.
	ErrSelectionChanged = errors.New("messenger: selection changed during load")
)
