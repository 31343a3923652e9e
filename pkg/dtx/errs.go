package dtx

import "github.com/tmq-project/tmq-ios/pkg/ioserr"

// kindErr attaches an ioserr.Kind to an existing sentinel error without
// changing its identity under errors.Is.
type kindErr struct {
	kind ioserr.Kind
	err  error
}

func (e *kindErr) Error() string     { return e.err.Error() }
func (e *kindErr) Unwrap() error     { return e.err }
func (e *kindErr) Kind() ioserr.Kind { return e.kind }

func withKind(kind ioserr.Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindErr{kind: kind, err: err}
}
