package atlas

import "fmt"

// validate checks ordering, parent links, metadata variants and the active
// discipline's balance invariants.
func (t *tree) validate() error {
	if t.root.Valid() && t.nodes[t.root].parent.Valid() {
		return fmt.Errorf("root %d has parent %d", t.root, t.nodes[t.root].parent)
	}
	if t.mode == RedBlack && t.isRed(t.root) {
		return fmt.Errorf("red root %s", t.nodes[t.root].entry.Key())
	}
	seen := 0
	if _, err := t.check(t.root, NoHandle, nil, nil, &seen); err != nil {
		return err
	}
	if seen != len(t.nodes) {
		return fmt.Errorf("%d of %d nodes reachable from root", seen, len(t.nodes))
	}
	return nil
}

// check returns the AVL height or the Red-Black black-height of h.
func (t *tree) check(h, parent Handle, lo, hi *Key, seen *int) (int, error) {
	if !h.Valid() {
		if t.mode == RedBlack {
			return 1, nil
		}
		return 0, nil
	}
	*seen++
	if *seen > len(t.nodes) {
		return 0, fmt.Errorf("cycle through node %d", h)
	}

	n := t.nodes[h]
	k := n.entry.Key()
	if n.parent != parent {
		return 0, fmt.Errorf("%s: parent %d, want %d", k, n.parent, parent)
	}
	if lo != nil && k.Compare(*lo) <= 0 || hi != nil && k.Compare(*hi) >= 0 {
		return 0, fmt.Errorf("%s: out of key order", k)
	}
	if n.meta == nil || n.meta.discipline() != t.mode {
		return 0, fmt.Errorf("%s: balance metadata does not match %s", k, t.mode)
	}

	lh, err := t.check(n.left, h, lo, &k, seen)
	if err != nil {
		return 0, err
	}
	rh, err := t.check(n.right, h, &k, hi, seen)
	if err != nil {
		return 0, err
	}

	switch meta := n.meta.(type) {
	case avlBalance:
		if lh-rh > 1 || rh-lh > 1 {
			return 0, fmt.Errorf("%s: balance factor %d", k, lh-rh)
		}
		if want := 1 + max(lh, rh); meta.height != want {
			return 0, fmt.Errorf("%s: stored height %d, want %d", k, meta.height, want)
		}
		return 1 + max(lh, rh), nil
	case rbBalance:
		if meta.red && (t.isRed(n.left) || t.isRed(n.right)) {
			return 0, fmt.Errorf("%s: red node with red child", k)
		}
		if lh != rh {
			return 0, fmt.Errorf("%s: black height %d left, %d right", k, lh, rh)
		}
		if meta.red {
			return lh, nil
		}
		return lh + 1, nil
	}
	return 0, fmt.Errorf("%s: unknown balance metadata %T", k, n.meta)
}

// mustValidate panics on a structurally corrupt tree. Corruption is a
// programming error, not drift.
func (t *tree) mustValidate() {
	if err := t.validate(); err != nil {
		panic("atlas: invariant violated: " + err.Error())
	}
}
