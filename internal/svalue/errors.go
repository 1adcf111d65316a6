package svalue

import "github.com/mlld-lang/mlld-sub002/internal/mlerr"

func errFieldAccess(v *Value, name string) error {
	return mlerr.New(mlerr.FieldNotFound, "cannot access field %q on non-object value of type %s", name, v.Type())
}

func errFieldNotFound(name string) error {
	return mlerr.New(mlerr.FieldNotFound, "field %q not found", name)
}

func errIndexOutOfRange(v *Value, i int) error {
	return mlerr.New(mlerr.FieldNotFound, "index %d out of range", i)
}
