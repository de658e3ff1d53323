package wire

import (
	"errors"
	"fmt"
	"reflect"
)

// Raw is an encoded body that has not been bound to a Go type yet.
type Raw interface {
	Unmarshal(out any) error
}

// ErrBind is returned when a body cannot be bound to the requested type.
var ErrBind = errors.New("wire: cannot bind body")

// Bind stores body into out, which must be a non-nil pointer.
//
// Decoded bodies (Raw) are unmarshalled by their codec. In-process bodies
// are assigned directly, so buffers are handed over without a copy. A nil
// body leaves out unchanged.
func Bind(body, out any) error {
	if body == nil {
		return nil
	}
	if raw, ok := body.(Raw); ok {
		return raw.Unmarshal(out)
	}

	dst := reflect.ValueOf(out)
	if dst.Kind() != reflect.Pointer || dst.IsNil() {
		return fmt.Errorf("%w: out must be a non-nil pointer, got %T", ErrBind, out)
	}
	dst = dst.Elem()

	src := reflect.ValueOf(body)
	switch {
	case src.Type().AssignableTo(dst.Type()):
		dst.Set(src)
	case src.Kind() == reflect.Pointer && !src.IsNil() && src.Elem().Type().AssignableTo(dst.Type()):
		dst.Set(src.Elem())
	default:
		return fmt.Errorf("%w: %T into %s", ErrBind, body, dst.Type())
	}
	return nil
}
