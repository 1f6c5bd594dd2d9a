package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const MaxCommentContent = 5000

var mentionPattern = regexp.MustCompile(`@(\w+)`)

// Comment is a threaded comment on an arbitrary tenant resource.
type Comment struct {
	ID         string
	TenantID   string
	ResourceID string
	AuthorID   string
	Content    string
	ReplyCount int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Reply is a direct answer to a comment.
type Reply struct {
	ID        string
	TenantID  string
	CommentID string
	AuthorID  string
	Content   string
	CreatedAt time.Time
}

// Mention links a comment (or one of its replies) to a mentioned user.
type Mention struct {
	ID              string
	TenantID        string
	CommentID       string
	ReplyID         *string
	MentionedUserID string
	CreatedAt       time.Time
}

func ValidateCommentContent(content string) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return fmt.Errorf("%w: content is required", ErrValidation)
	}
	if n := len([]rune(trimmed)); n > MaxCommentContent {
		return fmt.Errorf("%w: content exceeds %d characters (got %d)", ErrValidation, MaxCommentContent, n)
	}
	return nil
}

// ExtractMentions returns the distinct @username tokens in text, in order of
// first appearance and without the leading @.
func ExtractMentions(text string) []string {
	matches := mentionPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(matches))
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		name := m[1]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

// Excerpt shortens text to at most limit runes for use in notifications.
func Excerpt(text string, limit int) string {
	trimmed := strings.TrimSpace(text)
	runes := []rune(trimmed)
	if limit <= 0 || len(runes) <= limit {
		return trimmed
	}
	return strings.TrimSpace(string(runes[:limit])) + "..."
}
