package ppelib

// Fuzz is the go-fuzz entrypoint: it loads data and, on success, asks
// Store for the serialized size, without depending on any fixture corpus.
// It does not write the image out or compare the result with the input.
func Fuzz(data []byte) int {
	img, err := Load(data, Options{})
	if err != nil {
		return 0
	}
	if _, err := img.Store(nil); err != nil {
		return 0
	}
	return 1
}
