package dbsql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pollcast/internal/common"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type NotificationRepository struct {
	db  *gorm.DB
	now func() time.Time
}

var _ common.NotificationStore = (*NotificationRepository)(nil)

func NewNotificationRepository(db *gorm.DB) *NotificationRepository {
	return &NotificationRepository{
		db:  db,
		now: time.Now,
	}
}

// WithClock replaces the clock used for defaults and date windows.
func (r *NotificationRepository) WithClock(now func() time.Time) *NotificationRepository {
	r.now = now
	return r
}

// Append stores a new unread record. A missing id or timestamp is filled in;
// an id that already exists is rejected, never overwritten.
func (r *NotificationRepository) Append(ctx context.Context, n *common.Notification) (*common.Notification, error) {
	if n == nil {
		return nil, fmt.Errorf("%w: nil notification", common.ErrInvalidInput)
	}
	if n.RecipientID == "" {
		return nil, fmt.Errorf("%w: recipient is required", common.ErrInvalidInput)
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = r.now()
	}
	n.Seq = 0
	n.IsRead = false
	n.ReadAt = nil

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&common.Notification{}).Where("id = ?", n.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return common.ErrDuplicateID
		}
		return tx.Create(n).Error
	})
	if err != nil {
		if errors.Is(err, common.ErrDuplicateID) || errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("failed to append notification %s: %w", n.ID, common.ErrDuplicateID)
		}
		return nil, fmt.Errorf("failed to append notification: %w", err)
	}
	return n, nil
}

func (r *NotificationRepository) List(ctx context.Context, recipientID string, filter common.ListFilter) ([]*common.Notification, error) {
	query := r.db.WithContext(ctx).Where("recipient_id = ?", recipientID)

	if filter.Kind != "" {
		query = query.Where("kind = ?", filter.Kind)
	}
	if filter.Priority != "" {
		query = query.Where("priority = ?", filter.Priority)
	}
	if filter.UnreadOnly {
		query = query.Where("is_read = ?", false)
	}
	if since := filter.Window.Since(r.now()); !since.IsZero() {
		query = query.Where("created_at >= ?", since)
	}

	query = query.Order("created_at DESC").Order("seq ASC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var notifications []*common.Notification
	if err := query.Find(&notifications).Error; err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return notifications, nil
}

// MarkRead is idempotent: an already-read record is returned unchanged.
func (r *NotificationRepository) MarkRead(ctx context.Context, id, recipientID string) (*common.Notification, error) {
	db := r.db.WithContext(ctx)

	result := db.Model(&common.Notification{}).
		Where("id = ? AND recipient_id = ? AND is_read = ?", id, recipientID, false).
		Updates(map[string]interface{}{
			"is_read": true,
			"read_at": r.now(),
		})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to mark notification as read: %w", result.Error)
	}

	var notification common.Notification
	if err := db.Where("id = ? AND recipient_id = ?", id, recipientID).First(&notification).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("notification %s: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return &notification, nil
}

// MarkAllRead returns how many records went from unread to read and the
// read_at they were given.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, recipientID string) (int64, time.Time, error) {
	var (
		count  int64
		readAt time.Time
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		readAt = r.now()
		result := tx.Model(&common.Notification{}).
			Where("recipient_id = ? AND is_read = ?", recipientID, false).
			Updates(map[string]interface{}{
				"is_read": true,
				"read_at": readAt,
			})
		count = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to mark all notifications as read: %w", err)
	}
	return count, readAt, nil
}

func (r *NotificationRepository) Delete(ctx context.Context, id, recipientID string) error {
	result := r.db.WithContext(ctx).
		Where("id = ? AND recipient_id = ?", id, recipientID).
		Delete(&common.Notification{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete notification: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("notification %s: %w", id, common.ErrNotFound)
	}
	return nil
}

func (r *NotificationRepository) ClearAll(ctx context.Context, recipientID string) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("recipient_id = ?", recipientID).
		Delete(&common.Notification{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to clear notifications: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *NotificationRepository) UnreadCount(ctx context.Context, recipientID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&common.Notification{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to get unread count: %w", err)
	}
	return count, nil
}
