package history

// Merge appends incoming onto the tail of h. Incoming points are assumed to
// be ordered and at or after h's last LastUpdated; they are neither
// reordered nor deduplicated.
func Merge(h EntityHistory, incoming []StatePoint) EntityHistory {
	if len(incoming) == 0 {
		return h
	}
	return append(h, incoming...)
}
