package node

// Tag is a key/value label attached to an instance by the provider.
type Tag struct {
	Key   string
	Value string
}

// TagFilter matches instances carrying Key, and exactly Value when set.
type TagFilter struct {
	Key   string
	Value *string
}

// KeyFilter matches any tag with key.
func KeyFilter(key string) TagFilter { return TagFilter{Key: key} }

// ValueFilter matches tags with key set to exactly value.
func ValueFilter(key, value string) TagFilter { return TagFilter{Key: key, Value: &value} }

// Matches reports whether tag satisfies the filter.
func (f TagFilter) Matches(tag Tag) bool {
	if tag.Key != f.Key {
		return false
	}
	return f.Value == nil || *f.Value == tag.Value
}

// MatchesAny reports whether any of tags satisfies the filter.
func (f TagFilter) MatchesAny(tags []Tag) bool {
	for _, t := range tags {
		if f.Matches(t) {
			return true
		}
	}
	return false
}

func (f TagFilter) String() string {
	if f.Value == nil {
		return f.Key
	}
	return f.Key + "=" + *f.Value
}

// TagSpec narrows the inventory query with Base and classifies results with
// Master and Worker.
type TagSpec struct {
	Base   TagFilter
	Master TagFilter
	Worker TagFilter
}

// Classify assigns a role to an instance from its tags. Master is always
// evaluated first, so an instance matching both filters is a master. The
// second return value is false when neither filter matches.
func (s TagSpec) Classify(tags []Tag) (Role, bool) {
	if s.Master.MatchesAny(tags) {
		return Master, true
	}
	if s.Worker.MatchesAny(tags) {
		return Worker, true
	}
	return 0, false
}
