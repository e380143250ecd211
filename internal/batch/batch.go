// Package batch splits request lists into provider sized batches.
package batch

// MaxDynamoItems is the item limit of a DynamoDB BatchGetItem,
// TransactGetItems or TransactWriteItems call.
const MaxDynamoItems = 100

// Chunk splits items into consecutive slices of at most size elements,
// preserving order. A size below 1 returns all items in one chunk.
func Chunk[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size < 1 || size >= len(items) {
		return [][]T{items}
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

// Unique returns items without repeated keys, keeping the first occurrence.
func Unique[T any](items []T, key func(T) string) []T {
	seen := make(map[string]struct{}, len(items))
	out := make([]T, 0, len(items))
	for _, it := range items {
		k := key(it)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, it)
	}
	return out
}
