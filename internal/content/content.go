package content

import (
	"bytes"
	"html/template"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var (
	policy        = bluemonday.UGCPolicy()
	strictPolicy  = bluemonday.StrictPolicy()
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]{3,20}$`)
	roomCodeRegex = regexp.MustCompile(`^[0-9]{4}$`)
	emailRegex    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

	markdown = goldmark.New(
		goldmark.WithExtensions(extension.Linkify, extension.Strikethrough),
		goldmark.WithRendererOptions(html.WithHardWraps()),
	)
)

func init() {
	policy.AddTargetBlankToFullyQualifiedLinks(true)
	policy.RequireNoFollowOnLinks(true)
}

// Sanitize removes unsafe HTML from the input string using the UGC policy.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// StripTags removes every tag, leaving plain text. Used for room names.
func StripTags(input string) string {
	return strictPolicy.Sanitize(input)
}

// Escape escapes special characters like "<" to become "&lt;".
// It matches the behavior of html/template and is safe for use in HTML attributes.
func Escape(input string) string {
	return template.HTMLEscapeString(input)
}

// Render turns message text into safe HTML. Bare URLs become links.
func Render(text string) string {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(text), &buf); err != nil {
		return Escape(text)
	}
	return strings.TrimSpace(Sanitize(buf.String()))
}

// ValidUsername reports whether username is 3-20 letters, digits or underscores.
func ValidUsername(username string) bool {
	return usernameRegex.MatchString(username)
}

// ValidRoomCode reports whether code is exactly four digits.
func ValidRoomCode(code string) bool {
	return roomCodeRegex.MatchString(code)
}

func ValidEmail(email string) bool {
	return emailRegex.MatchString(email)
}

// EmailLocalPart returns the part of an email before "@".
func EmailLocalPart(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}

// GenerateRoomCode returns a random code in 1000..9999.
func GenerateRoomCode() string {
	return strconv.Itoa(1000 + rand.IntN(9000))
}
