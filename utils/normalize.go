package utils

import (
	"reflect"
	"strings"

	"github.com/shopspring/decimal"
)

var decimalType = reflect.TypeOf(decimal.Decimal{})

// NormalizeDTO trims string fields and rounds decimal fields to two places
// on a pointer-to-struct DTO. Useful for create DTOs with non-pointer fields.
func NormalizeDTO(dto any) {
	v := reflect.ValueOf(dto)
	if v.Kind() != reflect.Ptr {
		return
	}
	s := v.Elem()
	if s.Kind() != reflect.Struct {
		return
	}
	for i := 0; i < s.NumField(); i++ {
		f := s.Field(i)
		if !f.CanSet() {
			continue
		}
		switch {
		case f.Kind() == reflect.String:
			f.SetString(strings.TrimSpace(f.String()))
		case f.Type() == decimalType:
			d := f.Interface().(decimal.Decimal)
			f.Set(reflect.ValueOf(d.Round(2)))
		}
	}
}

// NormalizePtrDTO does the same for patch DTOs built from pointer fields.
// Only non-nil pointers are touched; nils stay nil so absent fields are not
// written.
func NormalizePtrDTO(dto any) {
	v := reflect.ValueOf(dto)
	if v.Kind() != reflect.Ptr {
		return
	}
	s := v.Elem()
	if s.Kind() != reflect.Struct {
		return
	}
	for i := 0; i < s.NumField(); i++ {
		f := s.Field(i)
		if f.Kind() != reflect.Ptr || f.IsNil() {
			continue
		}
		ef := f.Elem()
		switch {
		case ef.Kind() == reflect.String:
			ef.SetString(strings.TrimSpace(ef.String()))
		case ef.Type() == decimalType:
			d := ef.Interface().(decimal.Decimal)
			ef.Set(reflect.ValueOf(d.Round(2)))
		}
	}
}
