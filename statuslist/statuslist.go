// Package statuslist resolves token status list references: fetch the JSON
// list, inflate the compressed bitstring, and read the entry at the
// credential's index.
package statuslist

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Status values. Unknown is the explicit fallback when the list cannot be
// obtained.
const (
	StatusValid     = 0
	StatusInvalid   = 1
	StatusSuspended = 2
	StatusUnknown   = -1
)

// HTTPClient is the injected transport.
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// Client fetches and decodes status lists.
type Client struct {
	http HTTPClient
}

func NewClient(httpClient HTTPClient) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{http: httpClient}
}

type statusListDocument struct {
	StatusList struct {
		Bits int    `json:"bits"`
		Lst  string `json:"lst"`
	} `json:"status_list"`
}

// Status returns the list value at idx. When the list cannot be fetched,
// the status is Unknown and the cause is returned alongside it.
func (c *Client) Status(ctx context.Context, uri string, idx int) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return StatusUnknown, fmt.Errorf("failed to build status list request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return StatusUnknown, fmt.Errorf("failed to fetch status list: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return StatusUnknown, fmt.Errorf("failed to read status list: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return StatusUnknown, fmt.Errorf("status list fetch returned %d: %s", resp.StatusCode, body)
	}

	var doc statusListDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return StatusUnknown, fmt.Errorf("failed to parse status list: %w", err)
	}
	return valueAt(doc.StatusList.Bits, doc.StatusList.Lst, idx)
}

// valueAt decodes the compressed bitstring and extracts the idx'th entry.
// Entries are packed little-endian within each byte, bits per entry one of
// 1, 2, 4, or 8.
func valueAt(bits int, lst string, idx int) (int, error) {
	if bits == 0 {
		bits = 1
	}
	switch bits {
	case 1, 2, 4, 8:
	default:
		return StatusUnknown, fmt.Errorf("unsupported bits per entry: %d", bits)
	}

	compressed, err := base64.RawURLEncoding.DecodeString(lst)
	if err != nil {
		if compressed, err = base64.URLEncoding.DecodeString(lst); err != nil {
			return StatusUnknown, fmt.Errorf("failed to decode status list: %w", err)
		}
	}
	reader, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return StatusUnknown, fmt.Errorf("failed to inflate status list: %w", err)
	}
	defer reader.Close()
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return StatusUnknown, fmt.Errorf("failed to inflate status list: %w", err)
	}

	entriesPerByte := 8 / bits
	byteIdx := idx / entriesPerByte
	if byteIdx < 0 || byteIdx >= len(decoded) {
		return StatusUnknown, fmt.Errorf("status index %d out of range", idx)
	}
	shift := (idx % entriesPerByte) * bits
	mask := byte(1<<bits - 1)
	return int(decoded[byteIdx] >> shift & mask), nil
}
