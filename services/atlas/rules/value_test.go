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
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	boolRule = Definition{Key: Key{Namespace: "minecraft", Name: "keep_inventory"}, Type: TypeBoolean}
	intRule  = Definition{Key: Key{Namespace: "minecraft", Name: "random_tick_speed"}, Type: TypeInteger}
)

func TestCoerce_Boolean(t *testing.T) {
	tests := []struct {
		raw  any
		want bool
	}{
		{true, true},
		{false, false},
		{"true", true},
		{"TRUE", true},
		{"True", true},
		{"nonsense", false},
		{"false", false},
		{"yes", false},
		{1, false},
		{"", false},
	}
	for _, tt := range tests {
		v, err := Coerce(boolRule, tt.raw)
		require.NoError(t, err, "raw %v", tt.raw)
		got, ok := v.AsBool()
		require.True(t, ok)
		assert.Equal(t, tt.want, got, "raw %#v", tt.raw)
	}
}

func TestCoerce_Integer(t *testing.T) {
	tests := []struct {
		raw  any
		want int64
	}{
		{3, 3},
		{int64(-12), -12},
		{uint8(7), 7},
		{7.9, 7},
		{-7.9, -7},
		{float32(2.5), 2},
		{"42", 42},
		{"-5", -5},
		{"+5", 5},
	}
	for _, tt := range tests {
		v, err := Coerce(intRule, tt.raw)
		require.NoError(t, err, "raw %#v", tt.raw)
		got, ok := v.AsInt()
		require.True(t, ok)
		assert.Equal(t, tt.want, got, "raw %#v", tt.raw)
	}
}

func TestCoerce_IntegerInvalid(t *testing.T) {
	for _, raw := range []any{"abc", "1.5", " 3", "", true, int64(math.MaxInt32) + 1, uint64(math.MaxUint32), math.NaN(), math.Inf(1), 1e12, "99999999999"} {
		_, err := Coerce(intRule, raw)
		assert.ErrorIs(t, err, ErrInvalidValue, "raw %#v", raw)
	}
}

func TestCoerce_UnsupportedType(t *testing.T) {
	_, err := Coerce(Definition{Key: boolRule.Key}, true)
	assert.Error(t, err)
}

func TestValue_Accessors(t *testing.T) {
	b := Bool(true)
	assert.Equal(t, TypeBoolean, b.Type())
	_, ok := b.AsInt()
	assert.False(t, ok)
	assert.Equal(t, "true", b.String())

	i := Int(-4)
	assert.Equal(t, TypeInteger, i.Type())
	_, ok = i.AsBool()
	assert.False(t, ok)
	assert.Equal(t, "-4", i.String())

	assert.Equal(t, "<none>", Value{}.String())
}

func TestParseValueType(t *testing.T) {
	for in, want := range map[string]ValueType{"boolean": TypeBoolean, "Bool": TypeBoolean, "integer": TypeInteger, " int ": TypeInteger} {
		got, err := ParseValueType(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseValueType("string")
	assert.Error(t, err)
	assert.Equal(t, "unknown", ValueType(0).String())
}
