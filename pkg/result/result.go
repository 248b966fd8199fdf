// Package result defines the envelope a command handler produces: a success
// (Ok) or a failure (Fail), serialized as {ok, code, output, error}.
package result

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Result is the outcome of one handler invocation. The zero value is not
// useful; construct results with Ok or Fail.
//
// A nil code, output or error means the key is absent from the serialized
// envelope.
type Result struct {
	ok     bool
	code   interface{}
	output interface{}
	err    interface{}
}

// Ok returns a success envelope.
func Ok(code, output interface{}) *Result {
	return &Result{ok: true, code: code, output: output}
}

// Fail returns a failure envelope. err is optional and may be any value;
// error values and objects are flattened when the envelope is serialized.
func Fail(code, output, err interface{}) *Result {
	return &Result{ok: false, code: code, output: output, err: err}
}

// IsOk reports whether r is a success envelope.
func (r *Result) IsOk() bool { return r.ok }

// Code returns the caller-defined discriminator, or nil.
func (r *Result) Code() interface{} { return r.code }

// Output returns the handler payload, or nil.
func (r *Result) Output() interface{} { return r.output }

// Err returns the error carried by a failure envelope. It is always nil for
// success envelopes.
func (r *Result) Err() interface{} {
	if r.ok || isNil(r.err) {
		return nil
	}
	return r.err
}

// ToObject returns the plain mapping sent over the wire.
func (r *Result) ToObject() map[string]interface{} {
	obj := map[string]interface{}{"ok": r.ok}
	if !isNil(r.code) {
		obj["code"] = r.code
	}
	if !isNil(r.output) {
		obj["output"] = r.output
	}
	if e := r.Err(); e != nil {
		obj["error"] = FlattenError(e)
	}
	return obj
}

// MarshalJSON implements json.Marshaler using ToObject.
func (r *Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ToObject())
}

func (r *Result) String() string {
	data, err := r.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("result{ok=%v code=%v}", r.ok, r.code)
	}
	return string(data)
}

// A Namer is an error that reports its own name in flattened form. Errors
// that do not implement Namer are flattened with name "Error".
type Namer interface {
	Name() string
}

// FlattenError converts an error value into its serializable form.
//
// Error values become a mapping with "name" and "message" plus any fields
// visible in the JSON encoding of the value. Maps and structs become their
// JSON object form. Everything else, including slices and nil, is returned
// unchanged.
func FlattenError(v interface{}) interface{} {
	if isNil(v) {
		return v
	}
	if e, ok := v.(error); ok {
		obj := map[string]interface{}{
			"name":    errorName(e),
			"message": e.Error(),
		}
		for k, val := range objectFields(v) {
			obj[k] = val
		}
		return obj
	}

	rv := reflect.Indirect(reflect.ValueOf(v))
	switch rv.Kind() {
	case reflect.Map, reflect.Struct:
		if fields := objectFields(v); fields != nil {
			return fields
		}
	}
	return v
}

func errorName(e error) string {
	if n, ok := e.(Namer); ok && n.Name() != "" {
		return n.Name()
	}
	return "Error"
}

// objectFields returns the JSON object form of v, or nil if v does not encode
// as an object.
func objectFields(v interface{}) map[string]interface{} {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil
	}
	return fields
}

func isNil(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
