package atlas

import "sync/atomic"

// Handle addresses a node in the index arena. Handles stay valid across
// discipline rebuilds; Remove compacts the arena and invalidates them.
type Handle int32

// NoHandle is the nil handle.
const NoHandle Handle = -1

// Valid reports whether h addresses a node.
func (h Handle) Valid() bool { return h >= 0 }

// balance is the per-node balancing metadata. Exactly one variant exists per
// node, matching the tree's discipline.
type balance interface {
	discipline() Discipline
}

type avlBalance struct{ height int }

type rbBalance struct{ red bool }

func (avlBalance) discipline() Discipline { return AVL }
func (rbBalance) discipline() Discipline  { return RedBlack }

type node struct {
	entry               Entry
	hits                *atomic.Uint64
	left, right, parent Handle
	meta                balance
}

// tree is an arena-backed self-balancing BST. mode is AVL or RedBlack,
// never Hybrid.
type tree struct {
	nodes []node
	root  Handle
	mode  Discipline
}

func newTree(mode Discipline) *tree {
	return &tree{root: NoHandle, mode: mode}
}

func (t *tree) find(k Key) Handle {
	cur := t.root
	for cur.Valid() {
		c := k.Compare(t.nodes[cur].entry.Key())
		switch {
		case c == 0:
			return cur
		case c < 0:
			cur = t.nodes[cur].left
		default:
			cur = t.nodes[cur].right
		}
	}
	return NoHandle
}

// insert appends e to the arena and links it. The key must be absent.
func (t *tree) insert(e Entry, hits *atomic.Uint64) Handle {
	if hits == nil {
		hits = new(atomic.Uint64)
	}
	h := Handle(len(t.nodes))
	t.nodes = append(t.nodes, node{entry: e, hits: hits})
	t.link(h)
	return h
}

// link attaches the existing arena slot h under the current discipline,
// resetting its links and metadata.
func (t *tree) link(h Handle) {
	n := &t.nodes[h]
	n.left, n.right, n.parent = NoHandle, NoHandle, NoHandle
	if t.mode == AVL {
		n.meta = avlBalance{height: 1}
	} else {
		n.meta = rbBalance{red: true}
	}
	k := n.entry.Key()

	parent, cur, c := NoHandle, t.root, 0
	for cur.Valid() {
		parent = cur
		c = k.Compare(t.nodes[cur].entry.Key())
		if c < 0 {
			cur = t.nodes[cur].left
		} else {
			cur = t.nodes[cur].right
		}
	}
	t.nodes[h].parent = parent
	switch {
	case !parent.Valid():
		t.root = h
	case c < 0:
		t.nodes[parent].left = h
	default:
		t.nodes[parent].right = h
	}

	if t.mode == AVL {
		t.avlRetrace(parent)
	} else {
		t.rbInsertFixup(h)
	}
}

// inorder returns every handle in key order.
func (t *tree) inorder() []Handle {
	out := make([]Handle, 0, len(t.nodes))
	var stack []Handle
	cur := t.root
	for cur.Valid() || len(stack) > 0 {
		for cur.Valid() {
			stack = append(stack, cur)
			cur = t.nodes[cur].left
		}
		cur = stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, cur)
		cur = t.nodes[cur].right
	}
	return out
}

// relink rebuilds all balancing metadata under mode, keeping every arena
// slot (and therefore every handle) in place.
func (t *tree) relink(mode Discipline) {
	order := t.inorder()
	t.mode = mode
	t.root = NoHandle
	for _, h := range order {
		t.link(h)
	}
}

func (t *tree) height() int {
	var walk func(h Handle) int
	walk = func(h Handle) int {
		if !h.Valid() {
			return 0
		}
		return 1 + max(walk(t.nodes[h].left), walk(t.nodes[h].right))
	}
	return walk(t.root)
}

// replaceChild points parent p (or the root) at nw where it pointed at old.
func (t *tree) replaceChild(p, old, nw Handle) {
	if nw.Valid() {
		t.nodes[nw].parent = p
	}
	switch {
	case !p.Valid():
		t.root = nw
	case t.nodes[p].left == old:
		t.nodes[p].left = nw
	default:
		t.nodes[p].right = nw
	}
}

func (t *tree) rotateLeft(x Handle) Handle {
	y := t.nodes[x].right
	b := t.nodes[y].left
	t.nodes[x].right = b
	if b.Valid() {
		t.nodes[b].parent = x
	}
	t.replaceChild(t.nodes[x].parent, x, y)
	t.nodes[y].left = x
	t.nodes[x].parent = y
	if t.mode == AVL {
		t.updateHeight(x)
		t.updateHeight(y)
	}
	return y
}

func (t *tree) rotateRight(x Handle) Handle {
	y := t.nodes[x].left
	b := t.nodes[y].right
	t.nodes[x].left = b
	if b.Valid() {
		t.nodes[b].parent = x
	}
	t.replaceChild(t.nodes[x].parent, x, y)
	t.nodes[y].right = x
	t.nodes[x].parent = y
	if t.mode == AVL {
		t.updateHeight(x)
		t.updateHeight(y)
	}
	return y
}

// --- AVL ---

func (t *tree) avlHeight(h Handle) int {
	if !h.Valid() {
		return 0
	}
	return t.nodes[h].meta.(avlBalance).height
}

func (t *tree) updateHeight(h Handle) {
	n := &t.nodes[h]
	n.meta = avlBalance{height: 1 + max(t.avlHeight(n.left), t.avlHeight(n.right))}
}

func (t *tree) balanceFactor(h Handle) int {
	return t.avlHeight(t.nodes[h].left) - t.avlHeight(t.nodes[h].right)
}

// avlRetrace walks from h to the root fixing heights and rotating any node
// whose balance factor left {-1,0,1}.
func (t *tree) avlRetrace(h Handle) {
	for h.Valid() {
		t.updateHeight(h)
		switch bf := t.balanceFactor(h); {
		case bf > 1:
			if t.balanceFactor(t.nodes[h].left) < 0 {
				t.rotateLeft(t.nodes[h].left)
			}
			h = t.rotateRight(h)
		case bf < -1:
			if t.balanceFactor(t.nodes[h].right) > 0 {
				t.rotateRight(t.nodes[h].right)
			}
			h = t.rotateLeft(h)
		}
		h = t.nodes[h].parent
	}
}

// --- Red-Black ---

func (t *tree) isRed(h Handle) bool {
	return h.Valid() && t.nodes[h].meta.(rbBalance).red
}

func (t *tree) setRed(h Handle, red bool) {
	t.nodes[h].meta = rbBalance{red: red}
}

func (t *tree) rbInsertFixup(z Handle) {
	for {
		p := t.nodes[z].parent
		if !t.isRed(p) {
			break
		}
		// A red parent is never the root, so the grandparent exists.
		g := t.nodes[p].parent
		if p == t.nodes[g].left {
			if u := t.nodes[g].right; t.isRed(u) {
				t.setRed(p, false)
				t.setRed(u, false)
				t.setRed(g, true)
				z = g
				continue
			}
			if z == t.nodes[p].right {
				z = p
				t.rotateLeft(z)
				p = t.nodes[z].parent
			}
			t.setRed(p, false)
			t.setRed(g, true)
			t.rotateRight(g)
		} else {
			if u := t.nodes[g].left; t.isRed(u) {
				t.setRed(p, false)
				t.setRed(u, false)
				t.setRed(g, true)
				z = g
				continue
			}
			if z == t.nodes[p].left {
				z = p
				t.rotateRight(z)
				p = t.nodes[z].parent
			}
			t.setRed(p, false)
			t.setRed(g, true)
			t.rotateLeft(g)
		}
	}
	t.setRed(t.root, false)
}
