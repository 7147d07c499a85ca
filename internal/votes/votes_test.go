package votes

import "testing"

func TestParseKind(t *testing.T) {
	cases := []struct {
		in   string
		want Kind
		ok   bool
	}{
		{in: "upvote", want: Upvote, ok: true},
		{in: " Downvote ", want: Downvote, ok: true},
		{in: "sideways", ok: false},
		{in: "", ok: false},
	}
	for _, tc := range cases {
		got, ok := ParseKind(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Errorf("ParseKind(%q) = %q, %v; want %q, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestBallotVoters(t *testing.T) {
	b := Ballot{"u1": Downvote, "u2": Upvote, "u3": Downvote}

	up := b.Voters(Upvote)
	if len(up) != 1 || up[0] != "u2" {
		t.Fatalf("expected u2 as sole upvoter, got %v", up)
	}
	if down := b.Voters(Downvote); len(down) != 2 {
		t.Fatalf("expected two downvoters, got %v", down)
	}
}

func TestTally(t *testing.T) {
	cases := []struct {
		ballot     Ballot
		net, total int
	}{
		{ballot: Ballot{}, net: 0, total: 0},
		{ballot: Ballot{"a": Upvote, "b": Downvote}, net: 0, total: 2},
		{ballot: Ballot{"a": Upvote, "b": Upvote, "c": Downvote}, net: 1, total: 3},
		{ballot: Ballot{"a": Downvote, "b": Kind("sideways")}, net: -1, total: 1},
	}
	for _, tc := range cases {
		tally := tc.ballot.Tally()
		if tally.Net() != tc.net || tally.Total() != tc.total {
			t.Errorf("%v: net=%d total=%d, want %d and %d", tc.ballot, tally.Net(), tally.Total(), tc.net, tc.total)
		}
	}
}
