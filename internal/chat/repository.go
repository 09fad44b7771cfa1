package chat

import "context"

// Repository persists the ordered message log. Implementations assign ids and apply
// eviction inside a single commit; the Store provides write serialization on top.
type Repository interface {
	// Append assigns the next id to draft, persists it and evicts the oldest messages
	// beyond capacity. It returns the stored message and the number of evicted messages.
	Append(ctx context.Context, draft Message, capacity int) (Message, int, error)
	// Tail returns up to limit of the newest messages in ascending id order.
	Tail(ctx context.Context, limit int) ([]Message, error)
	// Count returns the number of persisted messages.
	Count(ctx context.Context) (int, error)
	// Trim evicts the oldest messages beyond capacity and returns how many were removed.
	Trim(ctx context.Context, capacity int) (int, error)
	// Import persists messages that are newer than the current log, keeping their ids,
	// then trims to capacity. It returns the number of imported messages.
	Import(ctx context.Context, messages []Message, capacity int) (int, error)
}

func reverseMessages(messages []Message) {
	for left, right := 0, len(messages)-1; left < right; left, right = left+1, right-1 {
		messages[left], messages[right] = messages[right], messages[left]
	}
}
