package chat

// Key returns the conversation key for a private 1:1 chat. The two user ids
// are sorted lexicographically before joining so both participants compute
// the identical key with no server round-trip: Key(a, b) == Key(b, a).
func Key(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "-" + b
}

// GroupKey returns the conversation key for a group chat, which is the group
// id itself.
func GroupKey(groupID string) string {
	return groupID
}
