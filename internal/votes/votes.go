// Package votes holds the vote vocabulary shared by every votable entity.
//
// A user holds at most one vote per entity. Storage keys votes by
// (entity, user), so casting the opposite kind replaces the earlier vote
// instead of adding a second row.
package votes

import "strings"

type Kind string

const (
	Upvote   Kind = "upvote"
	Downvote Kind = "downvote"
)

// Target names the kind of entity a vote is attached to.
type Target string

const (
	TargetFeedback Target = "feedback"
	TargetComment  Target = "comment"
)

func ParseKind(value string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(value))) {
	case Upvote:
		return Upvote, true
	case Downvote:
		return Downvote, true
	default:
		return "", false
	}
}

// Tally holds the up and down counts of one entity.
type Tally struct {
	Up   int
	Down int
}

// Net is the vote_count exposed on feedback and comments.
func (t Tally) Net() int {
	return t.Up - t.Down
}

func (t Tally) Total() int {
	return t.Up + t.Down
}

// Ballot is an in-memory view of one entity's votes keyed by user id.
type Ballot map[string]Kind

func (b Ballot) Tally() Tally {
	var t Tally
	for _, kind := range b {
		switch kind {
		case Upvote:
			t.Up++
		case Downvote:
			t.Down++
		}
	}
	return t
}

// Voters returns the user ids holding kind.
func (b Ballot) Voters(kind Kind) []string {
	ids := make([]string, 0, len(b))
	for userID, k := range b {
		if k == kind {
			ids = append(ids, userID)
		}
	}
	return ids
}
