package toolexec

import "bytes"

// bytesReader adapts a json.RawMessage into the io.Reader the jsonschema
// compiler's AddResource expects.
func bytesReader(b []byte) *bytes.Reader {
	return bytes.NewReader(b)
}
