package authflow

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	confettiCookieName = "confetti"
	toastCookieName    = "toast"
	oneShotLifetime    = time.Minute
)

// Toast is a one-shot notification shown on the next page render.
type Toast struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title"`
}

// confettiCookie marks the next page load for a one-time celebration.
func (c *Controller) confettiCookie() *http.Cookie {
	return c.cookies.Build(confettiCookieName, uuid.NewString(), oneShotLifetime)
}

func (c *Controller) toastCookie(toastType, title string) (*http.Cookie, error) {
	payload, err := json.Marshal(Toast{ID: uuid.NewString(), Type: toastType, Title: title})
	if err != nil {
		return nil, err
	}
	return c.cookies.Build(toastCookieName, base64.RawURLEncoding.EncodeToString(payload), oneShotLifetime), nil
}
