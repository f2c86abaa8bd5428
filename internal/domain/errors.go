package domain

import "errors"

// ErrFatal marks failures that cannot be fixed by replaying a pass, such as a
// schema that does not match what the stores expect. The process stops on them.
var ErrFatal = errors.New("fatal")
