package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is the sentinel wrapped by CheckPow2 when a size or alignment
// argument is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")
