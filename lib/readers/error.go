package readers

// ErrorReader fails every Read with Err. Use it to test how a reader
// chain reports a broken source.
type ErrorReader struct {
	Err error
}

// Read always returns the error
func (er ErrorReader) Read(p []byte) (n int, err error) {
	return 0, er.Err
}
