//go:build !desktop

package stopkey

// New validates name and reports ErrUnavailable.
func New(name string) (Listener, error) {
	if _, err := ParseKey(name); err != nil {
		return nil, err
	}
	return nil, ErrUnavailable
}
