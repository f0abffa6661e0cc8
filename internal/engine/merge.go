package engine

import (
	"github.com/IshaanNene/ThreadGoat/internal/types"
)

// ReplySet merges reply fragments from inline markup, intercepted background
// payloads and explicit API fetches into one list. A fragment whose key is
// already present is dropped, so the first-seen copy wins.
//
// Keys come from types.Reply.Key: the native id when present, otherwise
// author and publish date. Distinct id-less replies by the same author in the
// same minute therefore collapse into one entry.
type ReplySet struct {
	discussionID string
	keys         map[string]struct{}
	replies      []types.Reply
}

// NewReplySet creates an empty set for one discussion.
func NewReplySet(discussionID string) *ReplySet {
	return &ReplySet{
		discussionID: discussionID,
		keys:         make(map[string]struct{}),
	}
}

// Add merges fragments in order and returns how many were kept.
func (s *ReplySet) Add(fragments ...types.Reply) int {
	added := 0
	for _, r := range fragments {
		if r.ParentID == "" {
			r.ParentID = s.discussionID
		}
		if r.ParentReplyID == "" {
			r.ParentReplyID = r.ParentID
		}
		key := r.Key()
		if _, dup := s.keys[key]; dup {
			continue
		}
		s.keys[key] = struct{}{}
		s.replies = append(s.replies, r)
		added++
	}
	return added
}

// Has reports whether a fragment with the same key was kept.
func (s *ReplySet) Has(r types.Reply) bool {
	_, ok := s.keys[r.Key()]
	return ok
}

// Len returns the number of merged replies.
func (s *ReplySet) Len() int {
	return len(s.replies)
}

// Replies returns the merged replies in first-seen order.
func (s *ReplySet) Replies() []types.Reply {
	out := make([]types.Reply, len(s.replies))
	copy(out, s.replies)
	return out
}
