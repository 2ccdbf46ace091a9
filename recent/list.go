// Package recent owns the recent-items list shown in the UI and its on-disk
// copy.
package recent

// List is the observable recent-items list, most recent first. It has no
// locking: every method must be called on the UI-affinity context.
type List struct {
	items    []string
	limit    int
	revision uint64
	onChange func(revision uint64, items []string)
}

// NewList returns an empty list holding at most limit items; limit <= 0 means
// no cap.
func NewList(limit int) *List {
	return &List{limit: limit}
}

// OnChange registers fn to be called after every mutation with a copy of the
// items and a revision that increases with each change.
func (l *List) OnChange(fn func(revision uint64, items []string)) { l.onChange = fn }

// Merge folds items loaded from storage in behind the current ones. Later
// revisions continue from the larger of revision and the list's own. If the
// list already held items the merge counts as a change and fires OnChange,
// so the combined list is saved.
func (l *List) Merge(items []string, revision uint64) {
	live := len(l.items) > 0
	for _, it := range items {
		if it != "" && l.index(it) < 0 {
			l.items = append(l.items, it)
		}
	}
	l.trim()
	l.revision = max(l.revision, revision)
	if live {
		l.changed()
	}
}

// Remove drops key and reports whether it was present.
func (l *List) Remove(key string) bool {
	i := l.index(key)
	if i < 0 {
		return false
	}
	l.items = append(l.items[:i], l.items[i+1:]...)
	l.changed()
	return true
}

// InsertFirst moves key to the front, keeping it present exactly once.
func (l *List) InsertFirst(key string) {
	if key == "" {
		return
	}
	if i := l.index(key); i >= 0 {
		l.items = append(l.items[:i], l.items[i+1:]...)
	}
	l.items = append([]string{key}, l.items...)
	l.trim()
	l.changed()
}

// Items returns a copy of the list.
func (l *List) Items() []string { return append([]string(nil), l.items...) }

func (l *List) Len() int { return len(l.items) }

func (l *List) Revision() uint64 { return l.revision }

func (l *List) index(key string) int {
	for i, it := range l.items {
		if it == key {
			return i
		}
	}
	return -1
}

func (l *List) trim() {
	if l.limit > 0 && len(l.items) > l.limit {
		l.items = l.items[:l.limit]
	}
}

func (l *List) changed() {
	l.revision++
	if l.onChange != nil {
		l.onChange(l.revision, l.Items())
	}
}
