package core

import (
	"fmt"
	"maps"
	"strconv"
	"time"
)

// Params carries operation arguments from a source to its protocol.
type Params map[string]any

// String returns the string stored under key, or def when it is absent or empty.
func (p Params) String(key, def string) string {
	if s, ok := p[key].(string); ok && s != "" {
		return s
	}
	return def
}

// Required returns the non-empty string stored under key.
func (p Params) Required(key string) (string, error) {
	val, ok := p[key]
	if !ok {
		return "", fmt.Errorf("missing required parameter: %s", key)
	}
	s, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("parameter %s must be a string", key)
	}
	if s == "" {
		return "", fmt.Errorf("parameter %s cannot be empty", key)
	}
	return s, nil
}

// Int returns the integer stored under key, or def when it is absent or not numeric.
func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// Time returns the timestamp stored under key.
func (p Params) Time(key string) (time.Time, bool) {
	t, ok := p[key].(time.Time)
	return t, ok && !t.IsZero()
}

// Clone returns a shallow copy that can be modified without touching p.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	maps.Copy(out, p)
	return out
}

type Request struct {
	Method      string            `json:"method"`
	Path        string            `json:"path"`
	Query       Params            `json:"query,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Weight      int               `json:"weight"`
	Bucket      string            `json:"bucket,omitempty"`
	RequireAuth bool              `json:"require_auth"`
}

func NewRequest(method, path string) *Request {
	return &Request{
		Method:  method,
		Path:    path,
		Query:   make(Params),
		Headers: make(map[string]string),
		Weight:  1,
	}
}

func (r *Request) SetQuery(key string, value any) *Request {
	if r.Query == nil {
		r.Query = make(Params)
	}
	r.Query[key] = value
	return r
}

func (r *Request) SetHeader(key, value string) *Request {
	if r.Headers == nil {
		r.Headers = make(map[string]string)
	}
	r.Headers[key] = value
	return r
}

func (r *Request) SetWeight(weight int) *Request {
	r.Weight = weight
	return r
}

// SetBucket names the endpoint rate limit bucket the request is charged against.
func (r *Request) SetBucket(bucket string) *Request {
	r.Bucket = bucket
	return r
}

func (r *Request) SetRequireAuth(require bool) *Request {
	r.RequireAuth = require
	return r
}

func (r *Request) SetQueryParams(params Params) *Request {
	if r.Query == nil {
		r.Query = make(Params)
	}
	maps.Copy(r.Query, params)
	return r
}

// SetTimeRange sets the start and end keys as unix milliseconds, skipping zero times.
func (r *Request) SetTimeRange(startKey, endKey string, start, end time.Time) *Request {
	if !start.IsZero() {
		r.SetQuery(startKey, strconv.FormatInt(start.UnixMilli(), 10))
	}
	if !end.IsZero() {
		r.SetQuery(endKey, strconv.FormatInt(end.UnixMilli(), 10))
	}
	return r
}

// SetCursor sets the pagination cursor when one is present.
func (r *Request) SetCursor(key, cursor string) *Request {
	if cursor != "" {
		r.SetQuery(key, cursor)
	}
	return r
}

// QueryStrings renders every query value with fmt.Sprint.
func (r *Request) QueryStrings() map[string]string {
	out := make(map[string]string, len(r.Query))
	for k, v := range r.Query {
		out[k] = fmt.Sprint(v)
	}
	return out
}
