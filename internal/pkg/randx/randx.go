/*
Package randx generates identifiers: message ids, object-storage keys and
fallback display names.
*/
package randx

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"path"
	"strings"

	"github.com/google/uuid"
)

const (
	// Base62Chars is the alphabet for generated display-name suffixes.
	Base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// Base62Len is the size of Base62Chars.
	Base62Len = int64(len(Base62Chars))

	// ImageKeyPrefix is the object-storage prefix for chat images.
	ImageKeyPrefix = "chat-images"
)

// MessageID returns a new UUID v4 string.
func MessageID() string {
	return uuid.New().String()
}

// ImageKey builds the storage key for an image sent by senderID.
// ext must include the leading dot and is lower-cased.
func ImageKey(senderID string, ext string) string {
	return path.Join(ImageKeyPrefix, senderID, uuid.New().String()+strings.ToLower(ext))
}

// IsImageKey reports whether key has the shape produced by ImageKey.
func IsImageKey(key string) bool {
	parts := strings.Split(key, "/")
	if len(parts) != 3 || parts[0] != ImageKeyPrefix {
		return false
	}

	if !IsValidID(parts[1]) {
		return false
	}

	name := parts[2]
	if dot := strings.IndexByte(name, '.'); dot > 0 {
		name = name[:dot]
	}

	return IsValidID(name)
}

// IsValidID reports whether id is a canonical UUID as assigned to users and messages.
func IsValidID(id string) bool {
	parsed, err := uuid.Parse(id)
	return err == nil && parsed.String() == strings.ToLower(id)
}

// DisplayName generates "User_" followed by 6 random Base62 characters.
func DisplayName() (string, error) {
	const randomLength = 6
	result := make([]byte, randomLength)

	for i := range randomLength {
		num, err := rand.Int(rand.Reader, big.NewInt(Base62Len))
		if err != nil {
			return "", fmt.Errorf("failed to generate random number for display name: %w", err)
		}
		result[i] = Base62Chars[num.Int64()]
	}

	return "User_" + string(result), nil
}
