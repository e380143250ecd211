package model

import (
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jacentio/trellis-odm/store"
)

// Reserved document fields maintained by the lifecycle.
const (
	FieldID        = "id"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
)

func isReserved(name string) bool {
	return name == FieldID || name == FieldCreatedAt || name == FieldUpdatedAt
}

// Type is the value type a Schema accepts.
type Type int

const (
	TypeAny Type = iota
	TypeString
	TypeNumber
	TypeBool
	TypeTime
	TypeMap
	TypeList
	typeEnd
)

var typeNames = [...]string{"any", "string", "number", "bool", "time", "map", "list"}

func (t Type) String() string {
	if t < 0 || t >= typeEnd {
		return fmt.Sprintf("type(%d)", int(t))
	}
	return typeNames[t]
}

// Schema describes the values a field accepts.
type Schema struct {
	Type     Type
	Required bool

	// Rules is a go-playground/validator tag applied to present values,
	// for example "min=1,max=64" or "email".
	Rules string

	// Check is an optional custom validation run after Rules.
	Check func(v any) error
}

// Field declares one document field.
type Field struct {
	Schema *Schema

	// WhiteList fields are mass-assignable on Construct and exposed by the
	// default mask.
	WhiteList bool
}

// Fields maps field names to their declaration.
type Fields map[string]Field

var validate = validator.New()

var reservedFields = Fields{
	FieldID:        {Schema: &Schema{Type: TypeString, Required: true, Rules: "min=1"}, WhiteList: true},
	FieldCreatedAt: {Schema: &Schema{Type: TypeTime}, WhiteList: true},
	FieldUpdatedAt: {Schema: &Schema{Type: TypeTime}, WhiteList: true},
}

// ValidateFields checks that every declared field carries a usable schema.
func ValidateFields(fields Fields) error {
	if len(fields) == 0 {
		return store.Errorf(store.KindSchemaInvalid, "model must declare at least one field")
	}
	for _, name := range sortedNames(fields) {
		f := fields[name]
		if name == "" {
			return store.Errorf(store.KindSchemaInvalid, "field name must not be empty")
		}
		if f.Schema == nil {
			return store.Errorf(store.KindSchemaInvalid, "field %q must declare a schema", name)
		}
		if f.Schema.Type < 0 || f.Schema.Type >= typeEnd {
			return store.Errorf(store.KindSchemaInvalid, "field %q has unknown type %s", name, f.Schema.Type)
		}
		if err := checkRules(f.Schema.Rules); err != nil {
			return store.Errorf(store.KindSchemaInvalid, "field %q: %v", name, err)
		}
	}
	return nil
}

// checkRules reports a malformed validator tag. The validator panics while
// parsing an unknown tag, so parsing happens under recover.
func checkRules(rules string) (err error) {
	if rules == "" {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("invalid rules %q: %v", rules, r)
		}
	}()
	_ = validate.Var("", rules)
	return nil
}

// validateDoc checks doc against fields plus the reserved fields. Unknown
// keys are rejected.
func validateDoc(fields Fields, doc store.Data) error {
	for _, name := range sortedKeys(doc) {
		if _, ok := fields[name]; ok {
			continue
		}
		if _, ok := reservedFields[name]; ok {
			continue
		}
		return store.Errorf(store.KindDocumentInvalid, "%q is not allowed", name)
	}
	for _, set := range []Fields{reservedFields, fields} {
		for _, name := range sortedNames(set) {
			if err := set[name].Schema.validate(name, doc); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Schema) validate(name string, doc store.Data) error {
	v, present := doc[name]
	if !present || v == nil {
		if s.Required {
			return store.Errorf(store.KindDocumentInvalid, "%q is required", name)
		}
		return nil
	}
	if !s.Type.accepts(v) {
		return store.Errorf(store.KindDocumentInvalid, "%q must be a %s", name, s.Type)
	}
	if s.Rules != "" {
		if err := runRules(v, s.Rules); err != nil {
			return &store.Error{
				Kind: store.KindDocumentInvalid,
				Msg:  fmt.Sprintf("%q fails rules %q", name, s.Rules),
				Err:  err,
			}
		}
	}
	if s.Check != nil {
		if err := s.Check(v); err != nil {
			return &store.Error{
				Kind: store.KindDocumentInvalid,
				Msg:  fmt.Sprintf("%q is invalid: %v", name, err),
				Err:  err,
			}
		}
	}
	return nil
}

func runRules(v any, rules string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	return validate.Var(v, rules)
}

func (t Type) accepts(v any) bool {
	switch t {
	case TypeAny:
		return true
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBool:
		_, ok := v.(bool)
		return ok
	case TypeTime:
		switch tv := v.(type) {
		case time.Time:
			return true
		case string:
			_, err := time.Parse(time.RFC3339, tv)
			return err == nil
		}
		return false
	}

	rv := reflect.ValueOf(v)
	switch t {
	case TypeNumber:
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
			reflect.Float32, reflect.Float64:
			return true
		}
	case TypeMap:
		return rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String
	case TypeList:
		return rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array
	}
	return false
}

func sortedNames(fields Fields) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedKeys(doc store.Data) []string {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
