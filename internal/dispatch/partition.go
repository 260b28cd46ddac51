package dispatch

// Partition splits ids into contiguous chunks of at most size elements.
// Every id lands in exactly one chunk; only the last chunk may be short.
func Partition(ids []int, size int) [][]int {
	if size < 1 {
		size = DefaultChunkSize
	}
	if len(ids) == 0 {
		return nil
	}
	chunks := make([][]int, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		chunks = append(chunks, ids[start:end:end])
	}
	return chunks
}
