// Package polls holds an in-process poll and comment store, used when no
// document database is configured and in tests.
package polls

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"pollcast/internal/common"
)

type MemoryStore struct {
	mu       sync.RWMutex
	polls    map[string]common.Poll
	comments map[string]common.Comment
}

var _ common.ResourceStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		polls:    make(map[string]common.Poll),
		comments: make(map[string]common.Comment),
	}
}

func (s *MemoryStore) PutPoll(p common.Poll) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.Options = append([]common.PollOption(nil), p.Options...)
	s.polls[p.ID] = p
}

func (s *MemoryStore) PutComment(c common.Comment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comments[c.ID] = c
}

func (s *MemoryStore) DeleteComment(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.comments, id)
}

// Vote adds one vote to an option of an active poll.
func (s *MemoryStore) Vote(pollID, optionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.polls[pollID]
	if !ok {
		return fmt.Errorf("poll %s: %w", pollID, common.ErrNotFound)
	}
	if p.Status != common.PollActive {
		return fmt.Errorf("%w: poll %s is %s", common.ErrInvalidInput, pollID, p.Status)
	}
	for i := range p.Options {
		if p.Options[i].ID == optionID {
			p.Options[i].Votes++
			s.polls[pollID] = p
			return nil
		}
	}
	return fmt.Errorf("option %s: %w", optionID, common.ErrNotFound)
}

// SetLikes overwrites a comment's like count.
func (s *MemoryStore) SetLikes(commentID string, likes int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.comments[commentID]
	if !ok {
		return fmt.Errorf("comment %s: %w", commentID, common.ErrNotFound)
	}
	c.Likes = likes
	s.comments[commentID] = c
	return nil
}

func (s *MemoryStore) Poll(ctx context.Context, id string) (*common.Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.polls[id]
	if !ok {
		return nil, fmt.Errorf("poll %s: %w", id, common.ErrNotFound)
	}
	p.Options = append([]common.PollOption(nil), p.Options...)
	return &p, nil
}

func (s *MemoryStore) Comment(ctx context.Context, id string) (*common.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.comments[id]
	if !ok {
		return nil, fmt.Errorf("comment %s: %w", id, common.ErrNotFound)
	}
	return &c, nil
}

// ExpiredActivePolls returns active polls with ends_at at or before now,
// oldest deadline first.
func (s *MemoryStore) ExpiredActivePolls(ctx context.Context, now time.Time) ([]*common.Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*common.Poll
	for _, p := range s.polls {
		if p.Status == common.PollActive && p.EndsAt != nil && !p.EndsAt.After(now) {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndsAt.Before(*out[j].EndsAt) })
	return out, nil
}

func (s *MemoryStore) ClosePoll(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.polls[id]
	if !ok {
		return false, fmt.Errorf("poll %s: %w", id, common.ErrNotFound)
	}
	if p.Status != common.PollActive {
		return false, nil
	}
	p.Status = common.PollClosed
	p.ClosedAt = &at
	s.polls[id] = p
	return true, nil
}

func (s *MemoryStore) ReopenPoll(ctx context.Context, id string, closedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.polls[id]
	if !ok {
		return false, fmt.Errorf("poll %s: %w", id, common.ErrNotFound)
	}
	if p.Status != common.PollClosed || p.ClosedAt == nil || !p.ClosedAt.Equal(closedAt) {
		return false, nil
	}
	p.Status = common.PollActive
	p.ClosedAt = nil
	s.polls[id] = p
	return true, nil
}
