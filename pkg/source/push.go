package source

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"regexp"
	"strings"
)

// VerifySignature checks body against the hex-encoded HMAC-SHA256
// signature carried in the X-Signature header, per spec.md §6
// ("hex(HMAC-SHA256(body, push_shared_secret))"). Uses
// crypto/subtle.ConstantTimeCompare rather than a third-party library: no
// example repo in the corpus vendors an HMAC helper for this exact
// webhook-verification concern, and the standard library crypto packages
// are the idiomatic choice for it.
func VerifySignature(secret string, body []byte, signatureHeader string) bool {
	if secret == "" || signatureHeader == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.TrimSpace(signatureHeader))) == 1
}

// PushPayload is the union of shapes a push notification might arrive in —
// different upstream feed/webhook providers surface the account
// differently (an explicit field, a profile link, a human-readable title,
// or a feed URL). ExtractUsername tries each in turn.
type PushPayload struct {
	Account  string `json:"account"`
	Username string `json:"username"`
	Link     string `json:"link"`
	Title    string `json:"title"`
	FeedURL  string `json:"feed_url"`
	PostID   string `json:"post_id"`
}

var titleMentionRe = regexp.MustCompile(`@([A-Za-z0-9_]+)`)

// ExtractUsername pulls an account username out of raw, trying the
// explicit fields first and falling back to parsing a profile link, an
// "@handle" mention in a title, or a feed URL's path. The result is
// lowercased; callers match it against enabled accounts.
func ExtractUsername(raw []byte) (string, error) {
	var p PushPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", ErrUsernameNotFound
	}

	if p.Account != "" {
		return strings.ToLower(p.Account), nil
	}
	if p.Username != "" {
		return strings.ToLower(p.Username), nil
	}
	if u, ok := usernameFromURL(p.Link); ok {
		return u, nil
	}
	if m := titleMentionRe.FindStringSubmatch(p.Title); len(m) == 2 {
		return strings.ToLower(m[1]), nil
	}
	if u, ok := usernameFromURL(p.FeedURL); ok {
		return u, nil
	}

	return "", ErrUsernameNotFound
}

// usernameFromURL treats the last non-empty path segment of rawURL as a
// username, handling shapes like https://example.com/u/<username> or
// https://example.com/<username>/feed.
func usernameFromURL(rawURL string) (string, bool) {
	if rawURL == "" {
		return "", false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		seg := strings.TrimSpace(segments[i])
		if seg == "" || seg == "feed" || seg == "rss" || seg == "u" {
			continue
		}
		return strings.ToLower(seg), true
	}
	return "", false
}
