package httpcache

import (
	"net/http"
	"slices"
	"strings"
)

type field struct {
	name  string
	value string
}

// Headers is an ordered multi-map of header fields. Names keep the case they
// were added with; lookups ignore case. The zero value is empty and ready to
// use.
type Headers struct {
	fields []field
}

// HeadersFromHTTP copies h. Names are emitted in sorted order since
// http.Header does not keep insertion order.
func HeadersFromHTTP(h http.Header) Headers {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	slices.Sort(names)

	var out Headers
	for _, name := range names {
		for _, v := range h[name] {
			out.Add(name, v)
		}
	}
	return out
}

// ToHTTP converts to an http.Header with canonical names.
func (h Headers) ToHTTP() http.Header {
	out := make(http.Header, len(h.fields))
	for _, f := range h.fields {
		out.Add(f.name, f.value)
	}
	return out
}

// Add appends a field.
func (h *Headers) Add(name, value string) {
	h.fields = append(h.fields, field{name: name, value: value})
}

// Set replaces every field named name with a single one.
func (h *Headers) Set(name, value string) {
	h.Del(name)
	h.Add(name, value)
}

// Del removes every field named name.
func (h *Headers) Del(name string) {
	h.fields = slices.DeleteFunc(h.fields, func(f field) bool {
		return strings.EqualFold(f.name, name)
	})
}

// Get returns the first value for name, or "".
func (h Headers) Get(name string) string {
	for _, f := range h.fields {
		if strings.EqualFold(f.name, name) {
			return f.value
		}
	}
	return ""
}

// Values returns every value for name in order.
func (h Headers) Values(name string) []string {
	var values []string
	for _, f := range h.fields {
		if strings.EqualFold(f.name, name) {
			values = append(values, f.value)
		}
	}
	return values
}

// Has reports whether any field is named name.
func (h Headers) Has(name string) bool {
	for _, f := range h.fields {
		if strings.EqualFold(f.name, name) {
			return true
		}
	}
	return false
}

// Len returns the number of fields.
func (h Headers) Len() int { return len(h.fields) }

// Clone returns an independent copy.
func (h Headers) Clone() Headers {
	return Headers{fields: slices.Clone(h.fields)}
}

// Range calls fn for each field in order until fn returns false.
func (h Headers) Range(fn func(name, value string) bool) {
	for _, f := range h.fields {
		if !fn(f.name, f.value) {
			return
		}
	}
}
