package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	ErrBadSignature = errors.New("telegram signature verification failed")
	ErrStaleLogin   = errors.New("telegram login data is too old")
)

// telegramLoginMaxAge bounds how old a login-widget payload may be.
const telegramLoginMaxAge = 24 * time.Hour

// TelegramLogin is the payload delivered by the Telegram login widget.
type TelegramLogin struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
	PhotoURL  string `json:"photo_url,omitempty"`
	AuthDate  int64  `json:"auth_date"`
	Hash      string `json:"hash"`
}

// DisplayName picks the best human-readable name from the payload.
func (l *TelegramLogin) DisplayName() string {
	if l.Username != "" {
		return l.Username
	}
	name := l.FirstName
	if l.LastName != "" {
		name += " " + l.LastName
	}
	return name
}

// TelegramVerifier validates login-widget payloads against the bot token.
// The widget signs the sorted key=value fields with
// HMAC-SHA256(SHA256(botToken), data); anyone without the token cannot
// forge a valid hash.
type TelegramVerifier struct {
	secret []byte
}

// NewTelegramVerifier derives the HMAC secret from the bot token.
func NewTelegramVerifier(botToken string) *TelegramVerifier {
	sum := sha256.Sum256([]byte(botToken))
	return &TelegramVerifier{secret: sum[:]}
}

// Verify checks the payload signature and freshness.
func (v *TelegramVerifier) Verify(login *TelegramLogin, now time.Time) error {
	fields := map[string]string{
		"id":         fmt.Sprintf("%d", login.ID),
		"first_name": login.FirstName,
		"auth_date":  fmt.Sprintf("%d", login.AuthDate),
	}
	if login.LastName != "" {
		fields["last_name"] = login.LastName
	}
	if login.Username != "" {
		fields["username"] = login.Username
	}
	if login.PhotoURL != "" {
		fields["photo_url"] = login.PhotoURL
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+fields[k])
	}
	dataCheck := strings.Join(lines, "\n")

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(dataCheck))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(login.Hash)) {
		return ErrBadSignature
	}
	if now.Sub(time.Unix(login.AuthDate, 0)) > telegramLoginMaxAge {
		return ErrStaleLogin
	}
	return nil
}
