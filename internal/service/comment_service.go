package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/comms-gateway/internal/domain"
	"github.com/kursadbilgin/comms-gateway/internal/repository"
	"go.uber.org/zap"
)

const notificationExcerptLength = 140

type eventNotifier interface {
	Notify(ctx context.Context, event Event, channels []domain.Channel) (*NotifyResult, error)
}

type CreateCommentInput struct {
	TenantID   string
	AuthorID   string
	ResourceID string
	Content    string
}

type CreateReplyInput struct {
	TenantID  string
	CommentID string
	AuthorID  string
	Content   string
}

// CommentService stores comments and replies and notifies mentioned users
// and original commenters. Notification failures never fail a write.
type CommentService struct {
	comments repository.CommentRepository
	users    repository.UserRepository
	notifier eventNotifier
	logger   *zap.Logger
	now      func() time.Time
}

func NewCommentService(
	comments repository.CommentRepository,
	users repository.UserRepository,
	notifier eventNotifier,
	logger *zap.Logger,
) (*CommentService, error) {
	if comments == nil {
		return nil, fmt.Errorf("comment repository is required")
	}
	if users == nil {
		return nil, fmt.Errorf("user repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CommentService{
		comments: comments,
		users:    users,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}, nil
}

func (s *CommentService) CreateComment(ctx context.Context, in CreateCommentInput) (*domain.Comment, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := requireFields(map[string]string{"tenantId": in.TenantID, "authorId": in.AuthorID, "resourceId": in.ResourceID}); err != nil {
		return nil, err
	}
	if err := domain.ValidateCommentContent(in.Content); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	comment := &domain.Comment{
		ID:         uuid.NewString(),
		TenantID:   strings.TrimSpace(in.TenantID),
		ResourceID: strings.TrimSpace(in.ResourceID),
		AuthorID:   strings.TrimSpace(in.AuthorID),
		Content:    strings.TrimSpace(in.Content),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	mentioned, err := s.resolveMentions(ctx, comment.TenantID, comment.Content, comment.AuthorID)
	if err != nil {
		return nil, err
	}
	mentions := buildMentions(comment.TenantID, comment.ID, nil, mentioned, now)

	if err := s.comments.CreateComment(ctx, comment, mentions); err != nil {
		return nil, fmt.Errorf("failed to create comment: %w", err)
	}

	s.notify(ctx, Event{
		Kind:         EventMention,
		TenantID:     comment.TenantID,
		RecipientIDs: mentioned,
		ActorID:      comment.AuthorID,
		Title:        "You were mentioned in a comment",
		Message:      domain.Excerpt(comment.Content, notificationExcerptLength),
		ResourceID:   comment.ResourceID,
	})

	return comment, nil
}

// CreateReply stores a reply, notifies the original commenter unless they
// wrote the reply, and notifies users mentioned in it.
func (s *CommentService) CreateReply(ctx context.Context, in CreateReplyInput) (*domain.Reply, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := requireFields(map[string]string{"tenantId": in.TenantID, "authorId": in.AuthorID, "commentId": in.CommentID}); err != nil {
		return nil, err
	}
	if err := domain.ValidateCommentContent(in.Content); err != nil {
		return nil, err
	}

	tenantID := strings.TrimSpace(in.TenantID)
	comment, err := s.comments.GetComment(ctx, tenantID, strings.TrimSpace(in.CommentID))
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	reply := &domain.Reply{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		CommentID: comment.ID,
		AuthorID:  strings.TrimSpace(in.AuthorID),
		Content:   strings.TrimSpace(in.Content),
		CreatedAt: now,
	}

	mentioned, err := s.resolveMentions(ctx, tenantID, reply.Content, reply.AuthorID)
	if err != nil {
		return nil, err
	}
	replyID := reply.ID
	mentions := buildMentions(tenantID, comment.ID, &replyID, mentioned, now)

	if err := s.comments.CreateReply(ctx, reply, mentions); err != nil {
		return nil, fmt.Errorf("failed to create reply: %w", err)
	}

	excerpt := domain.Excerpt(reply.Content, notificationExcerptLength)
	notifyAuthor := comment.AuthorID != reply.AuthorID
	if notifyAuthor {
		s.notify(ctx, Event{
			Kind:         EventReply,
			TenantID:     tenantID,
			RecipientIDs: []string{comment.AuthorID},
			ActorID:      reply.AuthorID,
			Title:        "New reply to your comment",
			Message:      excerpt,
			ResourceID:   comment.ResourceID,
		})
	}

	mentionRecipients := make([]string, 0, len(mentioned))
	for _, id := range mentioned {
		// The commenter already got the reply notification.
		if notifyAuthor && id == comment.AuthorID {
			continue
		}
		mentionRecipients = append(mentionRecipients, id)
	}
	s.notify(ctx, Event{
		Kind:         EventMention,
		TenantID:     tenantID,
		RecipientIDs: mentionRecipients,
		ActorID:      reply.AuthorID,
		Title:        "You were mentioned in a reply",
		Message:      excerpt,
		ResourceID:   comment.ResourceID,
	})

	return reply, nil
}

func (s *CommentService) GetComment(ctx context.Context, tenantID string, id string) (*domain.Comment, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: comment id is required", domain.ErrValidation)
	}
	return s.comments.GetComment(ctx, tenantID, strings.TrimSpace(id))
}

func (s *CommentService) ListComments(ctx context.Context, filter repository.CommentFilter) ([]domain.Comment, int64, error) {
	if strings.TrimSpace(filter.TenantID) == "" {
		return nil, 0, fmt.Errorf("%w: tenantId is required", domain.ErrValidation)
	}
	filter.Search = strings.TrimSpace(filter.Search)
	return s.comments.ListComments(ctx, filter)
}

func (s *CommentService) ListReplies(ctx context.Context, tenantID string, commentID string) ([]domain.Reply, error) {
	comment, err := s.GetComment(ctx, tenantID, commentID)
	if err != nil {
		return nil, err
	}
	return s.comments.ListReplies(ctx, tenantID, comment.ID)
}

func (s *CommentService) DeleteComment(ctx context.Context, tenantID string, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: comment id is required", domain.ErrValidation)
	}
	return s.comments.DeleteComment(ctx, tenantID, strings.TrimSpace(id))
}

// resolveMentions maps @username tokens to user ids within the tenant.
// Unknown usernames and the author are dropped.
func (s *CommentService) resolveMentions(ctx context.Context, tenantID string, content string, authorID string) ([]string, error) {
	names := domain.ExtractMentions(content)
	if len(names) == 0 {
		return nil, nil
	}

	users, err := s.users.FindByUsernames(ctx, tenantID, names)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve mentions: %w", err)
	}

	byName := make(map[string]string, len(users))
	for _, u := range users {
		byName[u.Username] = u.ID
	}

	ids := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		id, ok := byName[name]
		if !ok {
			s.logger.Debug("skipping unresolved mention",
				zap.String("tenantId", tenantID),
				zap.String("username", name),
			)
			continue
		}
		if id == authorID {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *CommentService) notify(ctx context.Context, event Event) {
	if s.notifier == nil || len(event.RecipientIDs) == 0 {
		return
	}

	result, err := s.notifier.Notify(ctx, event, nil)
	if err != nil {
		s.logger.Warn("failed to send comment notification",
			zap.String("kind", string(event.Kind)),
			zap.String("tenantId", event.TenantID),
			zap.Error(err),
		)
		return
	}
	if result.Summary.Failed > 0 {
		s.logger.Info("comment notification partially failed",
			zap.String("kind", string(event.Kind)),
			zap.Int("failed", result.Summary.Failed),
			zap.Int("total", result.Summary.Total),
		)
	}
}

func buildMentions(tenantID string, commentID string, replyID *string, userIDs []string, now time.Time) []domain.Mention {
	mentions := make([]domain.Mention, 0, len(userIDs))
	for _, id := range userIDs {
		mentions = append(mentions, domain.Mention{
			ID:              uuid.NewString(),
			TenantID:        tenantID,
			CommentID:       commentID,
			ReplyID:         replyID,
			MentionedUserID: id,
			CreatedAt:       now,
		})
	}
	return mentions
}

func requireFields(fields map[string]string) error {
	missing := make([]string, 0, len(fields))
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("%w: %s is required", domain.ErrValidation, strings.Join(missing, ", "))
}
