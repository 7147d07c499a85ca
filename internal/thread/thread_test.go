package thread

import (
	"reflect"
	"testing"
	"time"

	"feedbackhub/api/internal/store"
)

func comment(id, parent string, active bool, at time.Time) store.Comment {
	c := store.Comment{ID: id, FeedbackID: "f1", IsActive: active, CreatedAt: at}
	if parent != "" {
		p := parent
		c.ParentID = &p
	}
	return c
}

func sampleTree() *Tree {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return Build([]store.Comment{
		comment("root", "", true, base),
		comment("a", "root", true, base.Add(time.Minute)),
		comment("b", "root", true, base.Add(2*time.Minute)),
		comment("hidden", "root", false, base.Add(3*time.Minute)),
		comment("a1", "a", true, base.Add(4*time.Minute)),
		comment("a1x", "a1", true, base.Add(5*time.Minute)),
		comment("other", "", true, base.Add(6*time.Minute)),
	})
}

func TestReplyCountCountsActiveDirectChildren(t *testing.T) {
	tree := sampleTree()
	if got := tree.ReplyCount("root"); got != 2 {
		t.Fatalf("ReplyCount(root) = %d, want 2", got)
	}
	if got := tree.ReplyCount("a"); got != 1 {
		t.Fatalf("ReplyCount(a) = %d, want 1", got)
	}
	if got := tree.ReplyCount("other"); got != 0 {
		t.Fatalf("ReplyCount(other) = %d, want 0", got)
	}
}

func TestSubtreeIncludesAllDescendants(t *testing.T) {
	tree := sampleTree()
	got := tree.Subtree("a")
	want := []string{"a", "a1", "a1x"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Subtree(a) = %v, want %v", got, want)
	}
	if len(tree.Subtree("root")) != 6 {
		t.Fatalf("Subtree(root) = %v", tree.Subtree("root"))
	}
	if tree.Subtree("missing") != nil {
		t.Fatal("unknown id should yield nil")
	}
}

func TestOrphansBecomeRoots(t *testing.T) {
	tree := Build([]store.Comment{
		comment("child", "gone", true, time.Now()),
	})
	nodes := tree.Nested()
	if len(nodes) != 1 || nodes[0].Comment.ID != "child" {
		t.Fatalf("expected orphan promoted to root, got %+v", nodes)
	}
}

func TestNestedKeepsChains(t *testing.T) {
	nodes := sampleTree().Nested()
	if len(nodes) != 2 {
		t.Fatalf("expected 2 roots, got %d", len(nodes))
	}
	root := nodes[0]
	if root.Comment.ID != "root" || root.ReplyCount != 2 || len(root.Replies) != 3 {
		t.Fatalf("unexpected root node: %+v", root)
	}
	if root.Replies[0].Replies[0].Replies[0].Comment.ID != "a1x" {
		t.Fatal("expected grandchild chain to be preserved")
	}
}

func TestRepliesOfFilteredParentSurfaceAtTopLevel(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// "parent" is hidden and was filtered out before Build.
	tree := Build([]store.Comment{
		comment("first", "", true, base),
		comment("reply", "parent", true, base.Add(time.Minute)),
	})
	var ids []string
	for _, node := range tree.Nested() {
		ids = append(ids, node.Comment.ID)
	}
	if !reflect.DeepEqual(ids, []string{"first", "reply"}) {
		t.Fatalf("top level = %v", ids)
	}
}
