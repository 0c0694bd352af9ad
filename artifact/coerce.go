package artifact

import (
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var (
	bigIntType  = reflect.TypeOf((*big.Int)(nil))
	addressType = reflect.TypeOf(common.Address{})
)

// packArguments converts loosely typed values into the exact Go types the
// ABI packer requires and packs them.
func packArguments(args abi.Arguments, values []interface{}) ([]byte, error) {
	if len(values) != len(args) {
		return nil, fmt.Errorf("expected %d arguments, got %d", len(args), len(values))
	}

	coerced := make([]interface{}, len(values))
	for i, arg := range args {
		v, err := coerce(arg.Type, values[i])
		if err != nil {
			name := arg.Name
			if name == "" {
				name = fmt.Sprintf("#%d", i)
			}
			return nil, fmt.Errorf("argument %s: %w", name, err)
		}
		coerced[i] = v.Interface()
	}

	return args.Pack(coerced...)
}

func coerce(t abi.Type, value interface{}) (reflect.Value, error) {
	if value == nil {
		return reflect.Value{}, fmt.Errorf("missing value for %s", t.String())
	}

	rv := reflect.ValueOf(value)
	target := t.GetType()
	if rv.Type() == target {
		return rv, nil
	}

	switch t.T {
	case abi.TupleTy:
		return coerceTuple(t, rv)
	case abi.SliceTy, abi.ArrayTy:
		return coerceList(t, rv)
	case abi.IntTy, abi.UintTy:
		return coerceInt(t, rv)
	case abi.AddressTy:
		return coerceAddress(rv)
	case abi.FixedBytesTy:
		return coerceFixedBytes(t, rv)
	case abi.BytesTy:
		b, err := toBytes(rv)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(b), nil
	}

	if rv.Kind() == target.Kind() && rv.Type().ConvertibleTo(target) {
		return rv.Convert(target), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %s as %s", rv.Type(), t.String())
}

func coerceInt(t abi.Type, rv reflect.Value) (reflect.Value, error) {
	n, err := toBigInt(rv)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("%s: %w", t.String(), err)
	}
	if err := checkRange(t, n); err != nil {
		return reflect.Value{}, err
	}

	target := t.GetType()
	if target == bigIntType {
		return reflect.ValueOf(n), nil
	}

	out := reflect.New(target).Elem()
	if t.T == abi.UintTy {
		out.SetUint(n.Uint64())
	} else {
		out.SetInt(n.Int64())
	}
	return out, nil
}

func toBigInt(rv reflect.Value) (*big.Int, error) {
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return big.NewInt(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return new(big.Int).SetUint64(rv.Uint()), nil
	case reflect.String:
		n, ok := new(big.Int).SetString(strings.TrimSpace(rv.String()), 0)
		if !ok {
			return nil, fmt.Errorf("invalid integer %q", rv.String())
		}
		return n, nil
	case reflect.Ptr:
		if rv.Type() == bigIntType {
			if rv.IsNil() {
				return nil, fmt.Errorf("nil big.Int")
			}
			return new(big.Int).Set(rv.Interface().(*big.Int)), nil
		}
	}
	return nil, fmt.Errorf("cannot use %s as integer", rv.Type())
}

func checkRange(t abi.Type, n *big.Int) error {
	if t.T == abi.UintTy {
		if n.Sign() < 0 {
			return fmt.Errorf("negative value %s for %s", n, t.String())
		}
		if n.BitLen() > t.Size {
			return fmt.Errorf("value %s overflows %s", n, t.String())
		}
		return nil
	}

	limit := new(big.Int).Lsh(big.NewInt(1), uint(t.Size-1))
	if n.Cmp(new(big.Int).Neg(limit)) < 0 || n.Cmp(limit) >= 0 {
		return fmt.Errorf("value %s overflows %s", n, t.String())
	}
	return nil
}

func coerceAddress(rv reflect.Value) (reflect.Value, error) {
	switch {
	case rv.Kind() == reflect.String:
		s := strings.TrimSpace(rv.String())
		if !common.IsHexAddress(s) {
			return reflect.Value{}, fmt.Errorf("invalid address %q", s)
		}
		return reflect.ValueOf(common.HexToAddress(s)), nil
	case rv.Kind() == reflect.Ptr && rv.Type().Elem() == addressType:
		if rv.IsNil() {
			return reflect.Value{}, fmt.Errorf("nil address")
		}
		return rv.Elem(), nil
	case rv.Type().ConvertibleTo(addressType) && rv.Kind() == reflect.Array:
		return rv.Convert(addressType), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %s as address", rv.Type())
}

func coerceFixedBytes(t abi.Type, rv reflect.Value) (reflect.Value, error) {
	b, err := toBytes(rv)
	if err != nil {
		return reflect.Value{}, err
	}
	if len(b) != t.Size {
		return reflect.Value{}, fmt.Errorf("%s needs %d bytes, got %d", t.String(), t.Size, len(b))
	}

	out := reflect.New(t.GetType()).Elem()
	for i, c := range b {
		out.Index(i).SetUint(uint64(c))
	}
	return out, nil
}

func toBytes(rv reflect.Value) ([]byte, error) {
	switch {
	case rv.Kind() == reflect.String:
		b, err := hexutil.Decode(rv.String())
		if err != nil {
			return nil, fmt.Errorf("invalid hex %q: %w", rv.String(), err)
		}
		return b, nil
	case rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8:
		return append([]byte(nil), rv.Bytes()...), nil
	case rv.Kind() == reflect.Array && rv.Type().Elem().Kind() == reflect.Uint8:
		b := make([]byte, rv.Len())
		for i := range b {
			b[i] = byte(rv.Index(i).Uint())
		}
		return b, nil
	}
	return nil, fmt.Errorf("cannot use %s as bytes", rv.Type())
}

func coerceList(t abi.Type, rv reflect.Value) (reflect.Value, error) {
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return reflect.Value{}, fmt.Errorf("cannot use %s as %s", rv.Type(), t.String())
	}

	n := rv.Len()
	target := t.GetType()
	var out reflect.Value
	if t.T == abi.ArrayTy {
		if n != t.Size {
			return reflect.Value{}, fmt.Errorf("%s needs %d elements, got %d", t.String(), t.Size, n)
		}
		out = reflect.New(target).Elem()
	} else {
		out = reflect.MakeSlice(target, n, n)
	}

	for i := 0; i < n; i++ {
		ev, err := coerce(*t.Elem, rv.Index(i).Interface())
		if err != nil {
			return reflect.Value{}, fmt.Errorf("index %d: %w", i, err)
		}
		out.Index(i).Set(ev)
	}
	return out, nil
}

// coerceTuple fills the ABI's tuple struct from a map keyed by component name
// or from a struct whose fields match by abi/json tag or camel-cased name.
func coerceTuple(t abi.Type, rv reflect.Value) (reflect.Value, error) {
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return reflect.Value{}, fmt.Errorf("nil value for %s", t.String())
		}
		rv = rv.Elem()
	}

	lookup, err := tupleSource(t, rv)
	if err != nil {
		return reflect.Value{}, err
	}

	out := reflect.New(t.GetType()).Elem()
	for i, raw := range t.TupleRawNames {
		src, ok := lookup(raw)
		if !ok {
			return reflect.Value{}, fmt.Errorf("missing tuple field %q", raw)
		}
		ev, err := coerce(*t.TupleElems[i], src)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("field %s: %w", raw, err)
		}
		out.Field(i).Set(ev)
	}
	return out, nil
}

func tupleSource(t abi.Type, rv reflect.Value) (func(string) (interface{}, bool), error) {
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("tuple map must have string keys, got %s", rv.Type())
		}
		known := make(map[string]bool, len(t.TupleRawNames))
		for _, raw := range t.TupleRawNames {
			known[raw] = true
		}
		iter := rv.MapRange()
		for iter.Next() {
			if key := iter.Key().String(); !known[key] {
				return nil, fmt.Errorf("unknown tuple field %q", key)
			}
		}
		keyType := rv.Type().Key()
		return func(raw string) (interface{}, bool) {
			v := rv.MapIndex(reflect.ValueOf(raw).Convert(keyType))
			if !v.IsValid() {
				return nil, false
			}
			return v.Interface(), true
		}, nil

	case reflect.Struct:
		rt := rv.Type()
		byName := make(map[string]int)
		for i := 0; i < rt.NumField(); i++ {
			f := rt.Field(i)
			if !f.IsExported() {
				continue
			}
			byName[f.Name] = i
			for _, tag := range []string{"abi", "json"} {
				if name, _, _ := strings.Cut(f.Tag.Get(tag), ","); name != "" && name != "-" {
					byName[name] = i
				}
			}
		}
		return func(raw string) (interface{}, bool) {
			i, ok := byName[raw]
			if !ok {
				i, ok = byName[abi.ToCamelCase(raw)]
			}
			if !ok {
				return nil, false
			}
			return rv.Field(i).Interface(), true
		}, nil
	}

	return nil, fmt.Errorf("cannot use %s as %s", rv.Type(), t.String())
}
