// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rules

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValueType is the declared type of a rule.
type ValueType int

const (
	// TypeBoolean rules take true/false.
	TypeBoolean ValueType = iota + 1
	// TypeInteger rules take a 32-bit integer.
	TypeInteger
)

// String returns the catalogue spelling of the type.
func (t ValueType) String() string {
	switch t {
	case TypeBoolean:
		return "boolean"
	case TypeInteger:
		return "integer"
	default:
		return "unknown"
	}
}

// ParseValueType parses "boolean"/"bool" or "integer"/"int".
func ParseValueType(s string) (ValueType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "boolean", "bool":
		return TypeBoolean, nil
	case "integer", "int":
		return TypeInteger, nil
	}
	return 0, fmt.Errorf("unknown rule type %q", s)
}

// ErrInvalidValue is returned by Coerce when a raw value cannot be
// converted to the rule's declared type.
var ErrInvalidValue = errors.New("invalid rule value")

// Value is a typed rule value: either a boolean or an integer.
// The zero Value has no type and is never produced by Coerce.
type Value struct {
	typ ValueType
	b   bool
	i   int64
}

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{typ: TypeBoolean, b: b} }

// Int returns an integer Value.
func Int(i int64) Value { return Value{typ: TypeInteger, i: i} }

// Type returns the value's tag.
func (v Value) Type() ValueType { return v.typ }

// AsBool returns the boolean and true when v is a boolean.
func (v Value) AsBool() (bool, bool) {
	return v.b, v.typ == TypeBoolean
}

// AsInt returns the integer and true when v is an integer.
func (v Value) AsInt() (int64, bool) {
	return v.i, v.typ == TypeInteger
}

func (v Value) String() string {
	switch v.typ {
	case TypeBoolean:
		return strconv.FormatBool(v.b)
	case TypeInteger:
		return strconv.FormatInt(v.i, 10)
	default:
		return "<none>"
	}
}

// Coerce converts a raw settings value to def's declared type.
//
// Booleans never fail: a native bool is used as-is, anything else is true
// only when its string form equals "true" ignoring case.
//
// Integers accept native integers, floats (truncated toward zero) and
// base-10 strings. Values outside the 32-bit range, non-finite floats and
// malformed strings return ErrInvalidValue.
func Coerce(def Definition, raw any) (Value, error) {
	switch def.Type {
	case TypeBoolean:
		if b, ok := raw.(bool); ok {
			return Bool(b), nil
		}
		return Bool(strings.EqualFold(fmt.Sprint(raw), "true")), nil
	case TypeInteger:
		i, err := coerceInt(raw)
		if err != nil {
			return Value{}, fmt.Errorf("%s: %w", def.Key, err)
		}
		return Int(i), nil
	}
	return Value{}, fmt.Errorf("%s: unsupported rule type %v", def.Key, def.Type)
}

func coerceInt(raw any) (int64, error) {
	var n int64
	switch v := raw.(type) {
	case int:
		n = int64(v)
	case int8:
		n = int64(v)
	case int16:
		n = int64(v)
	case int32:
		n = int64(v)
	case int64:
		n = v
	case uint:
		if uint64(v) > math.MaxInt32 {
			return 0, fmt.Errorf("%w: %d out of range", ErrInvalidValue, v)
		}
		n = int64(v)
	case uint8:
		n = int64(v)
	case uint16:
		n = int64(v)
	case uint32:
		n = int64(v)
	case uint64:
		if v > math.MaxInt32 {
			return 0, fmt.Errorf("%w: %d out of range", ErrInvalidValue, v)
		}
		n = int64(v)
	case float32:
		return truncate(float64(v))
	case float64:
		return truncate(v)
	default:
		s := fmt.Sprint(raw)
		parsed, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not an integer", ErrInvalidValue, s)
		}
		return parsed, nil
	}
	if n < math.MinInt32 || n > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %d out of range", ErrInvalidValue, n)
	}
	return n, nil
}

func truncate(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %v is not finite", ErrInvalidValue, f)
	}
	t := math.Trunc(f)
	if t < math.MinInt32 || t > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %v out of range", ErrInvalidValue, f)
	}
	return int64(t), nil
}
