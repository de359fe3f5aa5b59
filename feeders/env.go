package feeders

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/golobby/cast"
)

// EnvFeeder reads environment variables named PREFIX_TAG for every field
// carrying an `env:"TAG"` tag. Nested structs share the prefix. Unset or
// empty variables leave the field untouched.
type EnvFeeder struct {
	Prefix string
}

// NewEnvFeeder creates a new EnvFeeder reading variables with prefix
func NewEnvFeeder(prefix string) EnvFeeder {
	return EnvFeeder{Prefix: prefix}
}

// Feed reads environment variables and populates the provided structure
func (f EnvFeeder) Feed(structure interface{}) error {
	if f.Prefix == "" {
		return ErrEnvEmptyPrefix
	}
	rv := reflect.ValueOf(structure)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return wrapStructureError(structure)
	}
	return f.processStructFields(rv.Elem())
}

// processStructFields iterates through struct fields
func (f EnvFeeder) processStructFields(rv reflect.Value) error {
	for i := 0; i < rv.NumField(); i++ {
		field := rv.Field(i)
		fieldType := rv.Type().Field(i)
		if !field.CanSet() {
			continue
		}
		if field.Kind() == reflect.Struct {
			if err := f.processStructFields(field); err != nil {
				return err
			}
			continue
		}
		tag, ok := fieldType.Tag.Lookup("env")
		if !ok {
			continue
		}
		name := strings.ToUpper(f.Prefix) + "_" + strings.ToUpper(tag)
		value := os.Getenv(name)
		if value == "" {
			continue
		}
		if err := setFieldValue(field, value); err != nil {
			return fmt.Errorf("error in field '%s' from %s: %w", fieldType.Name, name, err)
		}
	}
	return nil
}

// setFieldValue converts and sets a field value. Durations use Go duration
// syntax and string slices are comma separated.
func setFieldValue(field reflect.Value, strValue string) error {
	if field.Type() == reflect.TypeOf(time.Duration(0)) {
		d, err := time.ParseDuration(strValue)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrEnvCannotConvert, err)
		}
		field.SetInt(int64(d))
		return nil
	}
	if field.Kind() == reflect.Slice && field.Type().Elem().Kind() == reflect.String {
		var items []string
		for _, item := range strings.Split(strValue, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		field.Set(reflect.ValueOf(items).Convert(field.Type()))
		return nil
	}

	convertedValue, err := cast.FromType(strValue, field.Type())
	if err != nil {
		return fmt.Errorf("%w %v: %w", ErrEnvCannotConvert, field.Type(), err)
	}
	field.Set(reflect.ValueOf(convertedValue).Convert(field.Type()))
	return nil
}
