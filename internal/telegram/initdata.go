// Package telegram verifies Telegram Mini App init data and extracts the
// authenticated user from it.
package telegram

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// ErrInvalidInitData is returned when init data fails signature
// verification or cannot be parsed.
var ErrInvalidInitData = errors.New("invalid telegram init data")

// User is the Telegram profile embedded in init data.
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
	PhotoURL  string `json:"photo_url"`
}

// Validate checks the init data signature against the bot token.
// The data-check string is every field except hash, sorted by key and
// joined with newlines; the signing key is HMAC-SHA256("WebAppData",
// botToken) per the Telegram Mini App scheme.
func Validate(initData, botToken string) error {
	values, err := url.ParseQuery(initData)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInitData, err)
	}

	gotHash := values.Get("hash")
	if gotHash == "" {
		return fmt.Errorf("%w: missing hash", ErrInvalidInitData)
	}
	values.Del("hash")

	pairs := make([]string, 0, len(values))
	for key := range values {
		pairs = append(pairs, key+"="+values.Get(key))
	}
	sort.Strings(pairs)
	checkString := strings.Join(pairs, "\n")

	keyMAC := hmac.New(sha256.New, []byte("WebAppData"))
	keyMAC.Write([]byte(botToken))
	secret := keyMAC.Sum(nil)

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(checkString))
	wantHash := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(wantHash), []byte(gotHash)) {
		return fmt.Errorf("%w: hash mismatch", ErrInvalidInitData)
	}

	return nil
}

// ExtractUser parses the user field out of init data.
func ExtractUser(initData string) (*User, error) {
	values, err := url.ParseQuery(initData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInitData, err)
	}

	raw := values.Get("user")
	if raw == "" {
		return nil, fmt.Errorf("%w: missing user", ErrInvalidInitData)
	}

	var user User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInitData, err)
	}
	if user.ID == 0 {
		return nil, fmt.Errorf("%w: missing user id", ErrInvalidInitData)
	}

	return &user, nil
}

// Authenticate validates init data and returns the embedded user.
func Authenticate(initData, botToken string) (*User, error) {
	if err := Validate(initData, botToken); err != nil {
		return nil, err
	}
	return ExtractUser(initData)
}
