package fetchstate

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const maxBodySize = 1 << 20 // 1MB

// Response is the HTTP-like result of a fetch operation.
type Response interface {
	// OK reports whether the status code is in the 2xx range.
	OK() bool
	StatusCode() int
	// Decode parses the JSON body into v.
	Decode(v any) error
}

// Buffered is a Response whose body is held in memory.
type Buffered struct {
	Code int
	Body []byte
}

// FromHTTP reads (up to 1MB of) resp's body and closes it.
func FromHTTP(resp *http.Response) (*Buffered, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return &Buffered{Code: resp.StatusCode, Body: body}, nil
}

// JSON builds a Buffered response by marshaling v.
func JSON(code int, v any) (*Buffered, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding response body: %w", err)
	}
	return &Buffered{Code: code, Body: body}, nil
}

func (b *Buffered) OK() bool        { return b.Code >= 200 && b.Code <= 299 }
func (b *Buffered) StatusCode() int { return b.Code }

func (b *Buffered) Decode(v any) error {
	return json.Unmarshal(b.Body, v)
}
