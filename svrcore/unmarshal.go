package svrcore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/wingie/webagent/internal/aids"
)

// Unknown is the type used for unrecognized keys after unmarshaling to a struct.
type Unknown []string

// unmarshalHeaderToStruct "deserializes" an http.Header's keys/values to an
// instance of s (passed-by-pointer). Recognized keys are matched by each
// field's json tag against the lowercased header name; unrecognized keys go
// into s's Unknown field. Supported field types: *string, *int64, *time.Time
// (with a format tag), and []string.
func unmarshalHeaderToStruct(header http.Header, s any) error {
	h := map[string][]string{} // Copy to avoid mutating header while lowercasing keys
	for k, val := range header {
		h[strings.ToLower(k)] = val
	}

	unknown := Unknown{}
	structValue := reflect.ValueOf(s).Elem()
	structType := structValue.Type()

	fieldFor := func(headerName string) (reflect.Value, reflect.StructField, bool) {
		for i := range structType.NumField() {
			sf := structType.Field(i)
			if strings.Split(sf.Tag.Get("json"), ",")[0] == headerName {
				return structValue.Field(i), sf, true
			}
		}
		return reflect.Value{}, reflect.StructField{}, false
	}

	for headerName, values := range h {
		f, sf, ok := fieldFor(headerName)
		if !ok {
			unknown = append(unknown, headerName)
			continue
		}
		switch f.Interface().(type) {
		case *string:
			f.Set(reflect.ValueOf(&values[0]))
		case *int64:
			n, err := strconv.ParseInt(values[0], 10, 64)
			if aids.IsError(err) {
				return fmt.Errorf("header %q: %w", headerName, err)
			}
			f.Set(reflect.ValueOf(&n))
		case *time.Time:
			format := sf.Tag.Get("format")
			if format == "RFC1123" || format == "" {
				format = http.TimeFormat
			}
			t, err := time.Parse(format, values[0])
			if aids.IsError(err) {
				return fmt.Errorf("header %q: %w", headerName, err)
			}
			f.Set(reflect.ValueOf(&t))
		case []string:
			f.Set(reflect.ValueOf(values))
		default:
			panic(fmt.Sprintf("header field type %v not supported", sf.Type))
		}
	}

	if uf := structValue.FieldByName("Unknown"); uf.IsValid() {
		uf.Set(reflect.ValueOf(unknown))
	}
	return nil
}

// jsonUnmarshalStrict unmarshals data into s, rejecting unrecognized fields.
func jsonUnmarshalStrict(data []byte, s any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(s)
}
