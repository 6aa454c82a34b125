package dbmongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pollcast/internal/common"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	pollsCollection    = "polls"
	commentsCollection = "comments"
)

// ResourceStore reads the poll documents the notification core reacts to.
// Its only writes are the automatic active to closed transition and the
// undo of that transition.
type ResourceStore struct {
	polls    *mongo.Collection
	comments *mongo.Collection
}

var _ common.ResourceStore = (*ResourceStore)(nil)

func NewResourceStore(mc *MongoClient) *ResourceStore {
	return &ResourceStore{
		polls:    mc.Database.Collection(pollsCollection),
		comments: mc.Database.Collection(commentsCollection),
	}
}

// EnsureIndexes creates the index the closure sweep relies on.
func (s *ResourceStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.polls.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}, {Key: "ends_at", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create poll index: %w", err)
	}
	return nil
}

func (s *ResourceStore) Poll(ctx context.Context, id string) (*common.Poll, error) {
	var poll common.Poll
	if err := s.polls.FindOne(ctx, bson.M{"_id": id}).Decode(&poll); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("poll %s: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find poll: %w", err)
	}
	return &poll, nil
}

func (s *ResourceStore) Comment(ctx context.Context, id string) (*common.Comment, error) {
	var comment common.Comment
	if err := s.comments.FindOne(ctx, bson.M{"_id": id}).Decode(&comment); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("comment %s: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find comment: %w", err)
	}
	return &comment, nil
}

func (s *ResourceStore) ExpiredActivePolls(ctx context.Context, now time.Time) ([]*common.Poll, error) {
	filter := bson.M{
		"status":  common.PollActive,
		"ends_at": bson.M{"$ne": nil, "$lte": now},
	}
	opts := options.Find().SetSort(bson.D{{Key: "ends_at", Value: 1}})

	cursor, err := s.polls.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired polls: %w", err)
	}
	defer cursor.Close(ctx)

	var polls []*common.Poll
	if err := cursor.All(ctx, &polls); err != nil {
		return nil, fmt.Errorf("failed to decode expired polls: %w", err)
	}
	return polls, nil
}

// ClosePoll is a compare-and-set on status; only the caller that moves the
// poll out of active gets true.
func (s *ResourceStore) ClosePoll(ctx context.Context, id string, at time.Time) (bool, error) {
	at = at.Truncate(time.Millisecond) // bson dates hold milliseconds
	res, err := s.polls.UpdateOne(ctx,
		bson.M{"_id": id, "status": common.PollActive},
		bson.M{"$set": bson.M{"status": common.PollClosed, "closed_at": at}},
	)
	if err != nil {
		return false, fmt.Errorf("failed to close poll: %w", err)
	}
	if res.ModifiedCount == 1 {
		return true, nil
	}

	count, err := s.polls.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return false, fmt.Errorf("failed to check poll: %w", err)
	}
	if count == 0 {
		return false, fmt.Errorf("poll %s: %w", id, common.ErrNotFound)
	}
	return false, nil
}

// ReopenPoll matches on closed_at as well, so it only reverts the closure
// made with that timestamp.
func (s *ResourceStore) ReopenPoll(ctx context.Context, id string, closedAt time.Time) (bool, error) {
	res, err := s.polls.UpdateOne(ctx,
		bson.M{"_id": id, "status": common.PollClosed, "closed_at": closedAt.Truncate(time.Millisecond)},
		bson.M{
			"$set":   bson.M{"status": common.PollActive},
			"$unset": bson.M{"closed_at": ""},
		},
	)
	if err != nil {
		return false, fmt.Errorf("failed to reopen poll: %w", err)
	}
	return res.ModifiedCount == 1, nil
}
