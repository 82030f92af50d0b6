package fn

// Chunks returns the [start, end) bounds of consecutive windows of size n
// over a sequence of length total. Returns nil if n <= 0.
func Chunks(total, n int) [][2]int {
	if n <= 0 {
		return nil
	}
	var out [][2]int
	for i := 0; i < total; i += n {
		end := i + n
		if end > total {
			end = total
		}
		out = append(out, [2]int{i, end})
	}
	return out
}
