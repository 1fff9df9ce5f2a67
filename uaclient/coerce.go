// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package uaclient

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind is a scalar type a value can be coerced to.
type Kind uint8

const (
	KindBool Kind = iota + 1
	KindByte
	KindInt16
	KindUint16
	KindInt32
	KindUint32
	KindInt64
	KindUint64
	KindFloat32
	KindFloat64
	KindDecimal
	KindString
)

var kindNames = map[Kind]string{
	KindBool:    "bool",
	KindByte:    "byte",
	KindInt16:   "int16",
	KindUint16:  "uint16",
	KindInt32:   "int32",
	KindUint32:  "uint32",
	KindInt64:   "int64",
	KindUint64:  "uint64",
	KindFloat32: "float32",
	KindFloat64: "float64",
	KindDecimal: "decimal",
	KindString:  "string",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ParseKind resolves a kind by name.
func ParseKind(name string) (Kind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	if name == "uint8" {
		return KindByte, nil
	}
	return 0, &UnsupportedTypeError{Type: name}
}

var errInvalidCast = errors.New("invalid cast")

var (
	maxUint64Decimal = decimal.RequireFromString("18446744073709551615")
	minInt64Decimal  = decimal.NewFromInt(math.MinInt64)
	maxInt64Decimal  = decimal.NewFromInt(math.MaxInt64)
)

// Coerce converts a value read from the server to kind. Numbers are rounded half to
// even when narrowed to an integer kind and out of range values fail with
// strconv.ErrRange. A nil value becomes the zero value of kind.
func Coerce(value any, kind Kind) (any, error) {
	var (
		out any
		err error
	)
	switch kind {
	case KindBool:
		out, err = toBool(value)
	case KindByte:
		var u uint64
		u, err = toUint(value, 8)
		out = uint8(u)
	case KindInt16:
		var i int64
		i, err = toInt(value, 16)
		out = int16(i)
	case KindUint16:
		var u uint64
		u, err = toUint(value, 16)
		out = uint16(u)
	case KindInt32:
		var i int64
		i, err = toInt(value, 32)
		out = int32(i)
	case KindUint32:
		var u uint64
		u, err = toUint(value, 32)
		out = uint32(u)
	case KindInt64:
		out, err = toInt(value, 64)
	case KindUint64:
		out, err = toUint(value, 64)
	case KindFloat32:
		var f float64
		f, err = toFloat(value)
		out = float32(f)
	case KindFloat64:
		out, err = toFloat(value)
	case KindDecimal:
		out, err = toDecimal(value)
	case KindString:
		out = toString(value)
	default:
		return nil, &UnsupportedTypeError{Type: kind.String()}
	}
	if err != nil {
		return nil, &ConversionError{Value: value, Kind: kind, Err: err}
	}
	return out, nil
}

// kindOf maps a Go type onto a Kind.
func kindOf(v any) (Kind, bool) {
	switch v.(type) {
	case bool:
		return KindBool, true
	case uint8:
		return KindByte, true
	case int16:
		return KindInt16, true
	case uint16:
		return KindUint16, true
	case int32:
		return KindInt32, true
	case uint32:
		return KindUint32, true
	case int64:
		return KindInt64, true
	case uint64:
		return KindUint64, true
	case float32:
		return KindFloat32, true
	case float64:
		return KindFloat64, true
	case decimal.Decimal:
		return KindDecimal, true
	case string:
		return KindString, true
	default:
		return 0, false
	}
}

// number is the widened form of a numeric or boolean value.
type number struct {
	isInt   bool
	isUint  bool
	isFloat bool
	isDec   bool
	i       int64
	u       uint64
	f       float64
	d       decimal.Decimal
}

func widen(value any) (number, error) {
	switch v := value.(type) {
	case nil:
		return number{isInt: true}, nil
	case bool:
		if v {
			return number{isInt: true, i: 1}, nil
		}
		return number{isInt: true}, nil
	case int:
		return number{isInt: true, i: int64(v)}, nil
	case int8:
		return number{isInt: true, i: int64(v)}, nil
	case int16:
		return number{isInt: true, i: int64(v)}, nil
	case int32:
		return number{isInt: true, i: int64(v)}, nil
	case int64:
		return number{isInt: true, i: v}, nil
	case uint:
		return number{isUint: true, u: uint64(v)}, nil
	case uint8:
		return number{isUint: true, u: uint64(v)}, nil
	case uint16:
		return number{isUint: true, u: uint64(v)}, nil
	case uint32:
		return number{isUint: true, u: uint64(v)}, nil
	case uint64:
		return number{isUint: true, u: v}, nil
	case float32:
		return number{isFloat: true, f: float64(v)}, nil
	case float64:
		return number{isFloat: true, f: v}, nil
	case decimal.Decimal:
		return number{isDec: true, d: v}, nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return number{}, &strconv.NumError{Func: "Coerce", Num: v, Err: strconv.ErrSyntax}
		}
		return number{isDec: true, d: d}, nil
	default:
		return number{}, fmt.Errorf("%w from %T", errInvalidCast, value)
	}
}

func rangeError(value any) error {
	return &strconv.NumError{Func: "Coerce", Num: fmt.Sprint(value), Err: strconv.ErrRange}
}

func toInt(value any, bits int) (int64, error) {
	if s, ok := value.(string); ok {
		return strconv.ParseInt(strings.TrimSpace(s), 10, bits)
	}
	n, err := widen(value)
	if err != nil {
		return 0, err
	}

	lo, hi := int64(-1)<<(bits-1), int64(1<<(bits-1)-1)
	switch {
	case n.isInt:
		if n.i < lo || n.i > hi {
			return 0, rangeError(value)
		}
		return n.i, nil
	case n.isUint:
		if n.u > uint64(hi) {
			return 0, rangeError(value)
		}
		return int64(n.u), nil
	case n.isFloat:
		r := math.RoundToEven(n.f)
		if math.IsNaN(r) || r < float64(lo) || r >= -float64(lo) {
			return 0, rangeError(value)
		}
		return int64(r), nil
	default:
		r := n.d.RoundBank(0)
		if r.LessThan(minInt64Decimal) || r.GreaterThan(maxInt64Decimal) {
			return 0, rangeError(value)
		}
		i := r.IntPart()
		if i < lo || i > hi {
			return 0, rangeError(value)
		}
		return i, nil
	}
}

func toUint(value any, bits int) (uint64, error) {
	if s, ok := value.(string); ok {
		return strconv.ParseUint(strings.TrimSpace(s), 10, bits)
	}
	n, err := widen(value)
	if err != nil {
		return 0, err
	}

	hi := uint64(1)<<bits - 1
	if bits == 64 {
		hi = math.MaxUint64
	}
	switch {
	case n.isInt:
		if n.i < 0 || uint64(n.i) > hi {
			return 0, rangeError(value)
		}
		return uint64(n.i), nil
	case n.isUint:
		if n.u > hi {
			return 0, rangeError(value)
		}
		return n.u, nil
	case n.isFloat:
		r := math.RoundToEven(n.f)
		if math.IsNaN(r) || r < 0 || r >= math.Ldexp(1, bits) {
			return 0, rangeError(value)
		}
		return uint64(r), nil
	default:
		r := n.d.RoundBank(0)
		if r.IsNegative() || r.GreaterThan(maxUint64Decimal) {
			return 0, rangeError(value)
		}
		u := r.BigInt().Uint64()
		if u > hi {
			return 0, rangeError(value)
		}
		return u, nil
	}
}

func toFloat(value any) (float64, error) {
	if s, ok := value.(string); ok {
		return strconv.ParseFloat(strings.TrimSpace(s), 64)
	}
	n, err := widen(value)
	if err != nil {
		return 0, err
	}
	switch {
	case n.isInt:
		return float64(n.i), nil
	case n.isUint:
		return float64(n.u), nil
	case n.isFloat:
		return n.f, nil
	default:
		return n.d.InexactFloat64(), nil
	}
}

func toDecimal(value any) (decimal.Decimal, error) {
	if s, ok := value.(string); ok {
		return decimal.NewFromString(strings.TrimSpace(s))
	}
	n, err := widen(value)
	if err != nil {
		return decimal.Decimal{}, err
	}
	switch {
	case n.isInt:
		return decimal.NewFromInt(n.i), nil
	case n.isUint:
		return decimal.RequireFromString(strconv.FormatUint(n.u, 10)), nil
	case n.isFloat:
		if math.IsNaN(n.f) || math.IsInf(n.f, 0) {
			return decimal.Decimal{}, rangeError(value)
		}
		return decimal.NewFromFloat(n.f), nil
	default:
		return n.d, nil
	}
}

func toBool(value any) (bool, error) {
	if s, ok := value.(string); ok {
		return strconv.ParseBool(strings.TrimSpace(s))
	}
	n, err := widen(value)
	if err != nil {
		return false, err
	}
	switch {
	case n.isInt:
		return n.i != 0, nil
	case n.isUint:
		return n.u != 0, nil
	case n.isFloat:
		return n.f != 0, nil
	default:
		return !n.d.IsZero(), nil
	}
}

func toString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case decimal.Decimal:
		return v.String()
	case time.Time:
		return v.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
