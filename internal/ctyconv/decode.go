package ctyconv

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/specialistvlad/burstflow/internal/ctxlog"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

var (
	ctyValueType = reflect.TypeOf(cty.Value{})
	durationType = reflect.TypeOf(time.Duration(0))
)

// Decode populates the value target points to from val. Struct fields are
// matched by their `cty` tag; attributes without a matching field are
// ignored and fields without a matching attribute keep their value, so
// callers pre-fill defaults. A time.Duration field accepts a duration
// string such as "1.5s" or a number of seconds.
func Decode(ctx context.Context, val cty.Value, target any) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("decode target must be a non-nil pointer, got %T", target)
	}
	return decode(ctx, val, rv.Elem())
}

func decode(ctx context.Context, val cty.Value, goVal reflect.Value) error {
	goType := goVal.Type()
	logger := ctxlog.FromContext(ctx).With("go_kind", goType.Kind().String())

	if goType == ctyValueType {
		if val.IsKnown() {
			goVal.Set(reflect.ValueOf(val))
		}
		return nil
	}

	if !val.IsKnown() || val.IsNull() {
		logger.Debug("Skipping decode for null or unknown value.")
		return nil
	}

	if goType == durationType {
		return decodeDuration(val, goVal)
	}

	switch goType.Kind() {
	case reflect.Pointer:
		elem := reflect.New(goType.Elem())
		if err := decode(ctx, val, elem.Elem()); err != nil {
			return err
		}
		goVal.Set(elem)
		return nil

	case reflect.Struct:
		if !val.Type().IsObjectType() && !val.Type().IsMapType() {
			return fmt.Errorf("type mismatch: cannot decode %s into Go struct %s", val.Type().FriendlyName(), goType.String())
		}
		attrs := val.AsValueMap()
		for i := 0; i < goType.NumField(); i++ {
			field := goType.Field(i)
			fieldVal := goVal.Field(i)
			if !field.IsExported() || !fieldVal.CanSet() {
				continue
			}
			name := strings.Split(field.Tag.Get("cty"), ",")[0]
			if name == "" || name == "-" {
				continue
			}
			attr, ok := attrs[name]
			if !ok {
				continue
			}
			if err := decode(ctx, attr, fieldVal); err != nil {
				return fmt.Errorf("in attribute '%s': %w", name, err)
			}
		}
		return nil

	case reflect.Interface:
		native, err := ToNative(val)
		if err != nil {
			return err
		}
		if native != nil {
			goVal.Set(reflect.ValueOf(native))
		}
		return nil

	case reflect.Map:
		return decodeMap(ctx, val, goVal)

	case reflect.Slice:
		ty := val.Type()
		if !ty.IsListType() && !ty.IsTupleType() && !ty.IsSetType() {
			return fmt.Errorf("type mismatch: cannot decode %s into Go slice %s", ty.FriendlyName(), goType.String())
		}
		out := reflect.MakeSlice(goType, val.LengthInt(), val.LengthInt())
		it := val.ElementIterator()
		for i := 0; it.Next(); i++ {
			_, elem := it.Element()
			if err := decode(ctx, elem, out.Index(i)); err != nil {
				return fmt.Errorf("in element %d: %w", i, err)
			}
		}
		goVal.Set(out)
		return nil

	default:
		want, err := gocty.ImpliedType(reflect.Zero(goType).Interface())
		if err != nil {
			return fmt.Errorf("cannot imply cty type for %s: %w", goType.String(), err)
		}
		converted, err := convert.Convert(val, want)
		if err != nil {
			return fmt.Errorf("cannot convert %s to %s: %w", val.Type().FriendlyName(), want.FriendlyName(), err)
		}
		return gocty.FromCtyValue(converted, goVal.Addr().Interface())
	}
}

func decodeMap(ctx context.Context, val cty.Value, goVal reflect.Value) error {
	ty := val.Type()
	if !ty.IsObjectType() && !ty.IsMapType() {
		return fmt.Errorf("type mismatch: cannot decode %s into Go map %s", ty.FriendlyName(), goVal.Type().String())
	}

	if goVal.Type() == reflect.TypeOf((map[string]any)(nil)) {
		native, err := ToNative(val)
		if err != nil {
			return err
		}
		if native != nil {
			goVal.Set(reflect.ValueOf(native))
		}
		return nil
	}

	out := reflect.MakeMap(goVal.Type())
	it := val.ElementIterator()
	for it.Next() {
		key, elem := it.Element()
		ptr := reflect.New(goVal.Type().Elem())
		if err := decode(ctx, elem, ptr.Elem()); err != nil {
			return fmt.Errorf("failed to decode map element '%s': %w", key.AsString(), err)
		}
		out.SetMapIndex(reflect.ValueOf(key.AsString()), ptr.Elem())
	}
	goVal.Set(out)
	return nil
}

func decodeDuration(val cty.Value, goVal reflect.Value) error {
	switch val.Type() {
	case cty.String:
		d, err := time.ParseDuration(val.AsString())
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		goVal.SetInt(int64(d))
		return nil
	case cty.Number:
		secs, _ := val.AsBigFloat().Float64()
		goVal.SetInt(int64(secs * float64(time.Second)))
		return nil
	default:
		return fmt.Errorf("type mismatch: duration must be a string or number, got %s", val.Type().FriendlyName())
	}
}
