package pv

import (
	"fmt"

	"pv-go/internal/model"
)

// diffTreeNode groups diffs under one album path segment. Nodes live only for
// the duration of one backup.
type diffTreeNode struct {
	name     string
	parent   *diffTreeNode
	children []*diffTreeNode
	byName   map[string]*diffTreeNode

	additions []model.Diff
	removals  []model.Diff

	// album is the real album this node is attached to, nil if the branch
	// does not exist remotely and holds no additions.
	album *model.Album
}

func newDiffTreeNode(name string, parent *diffTreeNode) *diffTreeNode {
	return &diffTreeNode{name: name, parent: parent, byName: make(map[string]*diffTreeNode)}
}

// child returns the child named name, creating it if needed.
func (n *diffTreeNode) child(name string) *diffTreeNode {
	if c, ok := n.byName[name]; ok {
		return c
	}
	c := newDiffTreeNode(name, n)
	n.byName[name] = c
	n.children = append(n.children, c)
	return c
}

// hasAdditions reports whether this node or any descendant holds a "+" diff.
func (n *diffTreeNode) hasAdditions() bool {
	if len(n.additions) > 0 {
		return true
	}
	for _, c := range n.children {
		if c.hasAdditions() {
			return true
		}
	}
	return false
}

// lookup returns the node at the given path, or nil if no diff created it.
func (n *diffTreeNode) lookup(segments []string) *diffTreeNode {
	node := n
	for _, s := range segments {
		node = node.byName[s]
		if node == nil {
			return nil
		}
	}
	return node
}

// path returns the slash-joined album path of the node.
func (n *diffTreeNode) path() string {
	if n.parent == nil {
		return ""
	}
	if p := n.parent.path(); p != "" {
		return p + "/" + n.name
	}
	return n.name
}

// buildDiffTree buckets diffs by album path, reusing nodes for shared prefixes.
func buildDiffTree(diffs []model.Diff) (*diffTreeNode, error) {
	root := newDiffTreeNode("", nil)
	for _, d := range diffs {
		node := root
		for _, segment := range d.AlbumPathSegments() {
			node = node.child(segment)
		}
		switch d.Modifier {
		case model.ModifierAdd:
			node.additions = append(node.additions, d)
		case model.ModifierRemove:
			node.removals = append(node.removals, d)
		default:
			return nil, fmt.Errorf("unknown modifier %q for %s", d.Modifier, d.FilePath)
		}
	}
	return root, nil
}

// bfs returns the nodes of the tree in breadth-first order, root first.
func (n *diffTreeNode) bfs() []*diffTreeNode {
	order := []*diffTreeNode{n}
	for i := 0; i < len(order); i++ {
		order = append(order, order[i].children...)
	}
	return order
}
