package memutils

// Validatable is anything with internal consistency checks that DebugValidate
// can run after mutations in debug builds
type Validatable interface {
	Validate() error
}
