package block

// ChildWatcher observes the child blocks of a Block. persisted is false for
// function-owned output blocks.
type ChildWatcher interface {
	OnChildChange(name string, child *Block, persisted bool)
}

// Watch registers w. Registering twice is a no-op.
func (b *Block) Watch(w ChildWatcher) {
	if b.destroyed {
		return
	}
	for _, existing := range b.watchers {
		if existing == w {
			return
		}
	}
	b.watchers = append(b.watchers, w)
}

// Unwatch removes w.
func (b *Block) Unwatch(w ChildWatcher) {
	for i, existing := range b.watchers {
		if existing == w {
			b.watchers = append(b.watchers[:i:i], b.watchers[i+1:]...)
			return
		}
	}
}

// Children returns the blocks owned by this block's properties, by name.
func (b *Block) Children() map[string]*Block {
	children := make(map[string]*Block)
	for name, p := range b.props {
		if child, ok := p.Value().(*Block); ok && child.prop == p && !child.destroyed {
			children[name] = child
		}
	}
	return children
}

func (b *Block) notifyChild(p *Property, child *Block) {
	if b.destroyed || len(b.watchers) == 0 {
		return
	}
	if child != nil && child.prop != p {
		// a reference, not a child
		child = nil
	}
	persisted := child != nil && p.saved == child
	for _, w := range append([]ChildWatcher(nil), b.watchers...) {
		w.OnChildChange(p.name, child, persisted)
	}
}
