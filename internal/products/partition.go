package products

// Partition splits crops into ordered, contiguous batches of at most size
// elements. Batches share the backing array of crops. size must be positive;
// a non-positive size yields a single batch holding every crop.
func Partition(crops []string, size int) [][]string {
	if len(crops) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(crops)
	}

	batches := make([][]string, 0, (len(crops)+size-1)/size)
	for start := 0; start < len(crops); start += size {
		end := min(start+size, len(crops))
		batches = append(batches, crops[start:end:end])
	}
	return batches
}
