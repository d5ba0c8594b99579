package rtltcp

// decodeIQ converts interleaved unsigned 8-bit I/Q pairs into exactly n
// normalized complex samples. Missing samples are zero, extra samples are
// dropped. A trailing unpaired byte is ignored.
func decodeIQ(raw []byte, n int) []complex128 {
	samples := make([]complex128, n)

	pairs := min(len(raw)/2, n)
	for i := 0; i < pairs; i++ {
		samples[i] = complex(
			(float64(raw[2*i])-127.5)/127.5,
			(float64(raw[2*i+1])-127.5)/127.5,
		)
	}
	return samples
}
