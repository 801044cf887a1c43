package securemem

// CopyString places s into a fresh secure buffer. Used when secret text
// (a signature, a decoded key) arrives as an ordinary string and needs a
// wipeable home.
func CopyString(s string) (*Buffer, error) {
	b, err := Alloc(len(s))
	if err != nil {
		return nil, err
	}
	copy(b.Bytes(), s)
	return b, nil
}

// CopyBytes places p into a fresh secure buffer and wipes the source.
// Ownership of the secret transfers to the returned buffer.
func CopyBytes(p []byte) (*Buffer, error) {
	b, err := Alloc(len(p))
	if err != nil {
		return nil, err
	}
	copy(b.Bytes(), p)
	Clear(p)
	return b, nil
}
