package img

import "slices"

// Pending is a snapshot of the changes queued for the next Save.
type Pending struct {
	// Additions lists queued addition names in insertion order.
	Additions []string

	// Deletions lists queued deletion names in the order they were first queued.
	Deletions []string
}

// Empty reports whether nothing is queued.
func (p Pending) Empty() bool {
	return len(p.Additions) == 0 && len(p.Deletions) == 0
}

// Add queues data to be stored under name by the next Save.
//
// The data is copied. Adding the same name again replaces the queued data
// and keeps the original queue position. Names are not validated and
// collisions are not checked until Save, so several changes can be queued
// and reconciled together.
func (a *Archive) Add(name string, data []byte) error {
	if a.closed {
		return ErrClosed
	}
	a.dropUnsaved()
	buf := slices.Clone(data)
	if buf == nil {
		buf = []byte{}
	}
	if i, ok := a.addPos[name]; ok {
		a.additions[i].data = buf
		return nil
	}
	a.addPos[name] = len(a.additions)
	a.additions = append(a.additions, addition{name: name, data: buf})
	return nil
}

// Delete queues name for removal by the next Save.
// Deleting a name that is not in the directory has no effect on save.
func (a *Archive) Delete(name string) error {
	if a.closed {
		return ErrClosed
	}
	if _, ok := a.delSet[name]; ok {
		return nil
	}
	a.dropUnsaved()
	a.delSet[name] = struct{}{}
	a.deletions = append(a.deletions, name)
	return nil
}

// Replace queues name for removal and queues data under the same name.
// After Save the name holds data and the old payload is gone.
func (a *Archive) Replace(name string, data []byte) error {
	if err := a.Delete(name); err != nil {
		return err
	}
	return a.Add(name, data)
}

// Pending returns the names currently queued for addition and deletion.
func (a *Archive) Pending() Pending {
	p := Pending{
		Additions: make([]string, 0, len(a.additions)),
		Deletions: slices.Clone(a.deletions),
	}
	for _, add := range a.additions {
		p.Additions = append(p.Additions, add.name)
	}
	return p
}

// Cancel drops any queued addition and deletion for name.
// It is how a caller skips a name that Save rejected.
//
// Add, Delete, Cancel and Discard all drop an image kept from a failed
// commit, so the next Save builds a new one.
func (a *Archive) Cancel(name string) {
	a.dropUnsaved()
	if i, ok := a.addPos[name]; ok {
		a.additions = slices.Delete(a.additions, i, i+1)
		delete(a.addPos, name)
		for j := i; j < len(a.additions); j++ {
			a.addPos[a.additions[j].name] = j
		}
	}
	if _, ok := a.delSet[name]; ok {
		delete(a.delSet, name)
		a.deletions = slices.DeleteFunc(a.deletions, func(n string) bool { return n == name })
	}
}

// Discard drops every queued change.
func (a *Archive) Discard() {
	a.dropUnsaved()
	a.additions = nil
	clear(a.addPos)
	a.deletions = nil
	clear(a.delSet)
}
