// Package thread indexes a feedback item's comments by id so replies are
// resolved through lookups instead of a live object graph. Deleting a comment
// means deleting Subtree(id).
package thread

import "feedbackhub/api/internal/store"

type Tree struct {
	nodes    map[string]store.Comment
	children map[string][]string
	roots    []string
}

// Node is the nested view of one comment.
type Node struct {
	Comment    store.Comment
	ReplyCount int
	Replies    []Node
}

// Build keeps the input order for siblings. A comment whose parent is not in
// the set is treated as a root.
func Build(comments []store.Comment) *Tree {
	t := &Tree{
		nodes:    make(map[string]store.Comment, len(comments)),
		children: make(map[string][]string),
	}
	for _, c := range comments {
		t.nodes[c.ID] = c
	}
	for _, c := range comments {
		if c.ParentID != nil {
			if _, ok := t.nodes[*c.ParentID]; ok && *c.ParentID != c.ID {
				t.children[*c.ParentID] = append(t.children[*c.ParentID], c.ID)
				continue
			}
		}
		t.roots = append(t.roots, c.ID)
	}
	return t
}

// ReplyCount counts active direct children only.
func (t *Tree) ReplyCount(id string) int {
	count := 0
	for _, childID := range t.children[id] {
		if t.nodes[childID].IsActive {
			count++
		}
	}
	return count
}

// Subtree returns id followed by every descendant, breadth first. It returns
// nil when id is unknown.
func (t *Tree) Subtree(id string) []string {
	if _, ok := t.nodes[id]; !ok {
		return nil
	}
	out := []string{id}
	seen := map[string]bool{id: true}
	for i := 0; i < len(out); i++ {
		for _, childID := range t.children[out[i]] {
			if seen[childID] {
				continue
			}
			seen[childID] = true
			out = append(out, childID)
		}
	}
	return out
}

// Nested renders the forest of whatever comments the tree was built from.
// Callers filter before Build; a reply whose parent was filtered out is an
// orphan and is listed at the top level so it stays reachable.
func (t *Tree) Nested() []Node {
	return t.build(t.roots, map[string]bool{})
}

func (t *Tree) build(ids []string, visiting map[string]bool) []Node {
	out := make([]Node, 0, len(ids))
	for _, id := range ids {
		c := t.nodes[id]
		if visiting[id] {
			continue
		}
		visiting[id] = true
		out = append(out, Node{
			Comment:    c,
			ReplyCount: t.ReplyCount(id),
			Replies:    t.build(t.children[id], visiting),
		})
		delete(visiting, id)
	}
	return out
}
