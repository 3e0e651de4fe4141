package oauth

// Validation a named check with the error it reports when it fails
type Validation struct {
	Name  string
	Error error
	Valid func() bool
}

// firstFailure runs vs in order and returns the first one that fails, or nil.
func firstFailure(vs []Validation) *Validation {
	for i := range vs {
		if !vs[i].Valid() {
			return &vs[i]
		}
	}
	return nil
}
