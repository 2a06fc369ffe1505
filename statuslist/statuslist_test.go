package statuslist_test

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spruceid/mobile-sdk-go/statuslist"
)

type stubClient struct {
	status int
	body   []byte
	err    error
}

func (s *stubClient) Do(*http.Request) (*http.Response, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &http.Response{
		StatusCode: s.status,
		Body:       io.NopCloser(bytes.NewReader(s.body)),
	}, nil
}

func listBody(t *testing.T, bits int, entries []byte) []byte {
	t.Helper()
	var compressed bytes.Buffer
	w := zlib.NewWriter(&compressed)
	_, err := w.Write(entries)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	body, err := json.Marshal(map[string]any{
		"status_list": map[string]any{
			"bits": bits,
			"lst":  base64.RawURLEncoding.EncodeToString(compressed.Bytes()),
		},
	})
	require.NoError(t, err)
	return body
}

func TestStatusSingleBit(t *testing.T) {
	// Index 7 set, so byte 0 is 0x80.
	client := statuslist.NewClient(&stubClient{status: http.StatusOK, body: listBody(t, 1, []byte{0x80})})

	status, err := client.Status(context.Background(), "https://issuer/statuslist.json", 7)
	require.NoError(t, err)
	assert.Equal(t, statuslist.StatusInvalid, status)

	status, err = client.Status(context.Background(), "https://issuer/statuslist.json", 0)
	require.NoError(t, err)
	assert.Equal(t, statuslist.StatusValid, status)
}

func TestStatusTwoBits(t *testing.T) {
	// Two-bit entries packed little-endian: index 0 -> 0, 1 -> 1, 2 -> 2, 3 -> 0.
	entry := byte(0<<0 | 1<<2 | 2<<4 | 0<<6)
	client := statuslist.NewClient(&stubClient{status: http.StatusOK, body: listBody(t, 2, []byte{entry})})

	tests := []struct {
		idx  int
		want int
	}{
		{0, statuslist.StatusValid},
		{1, statuslist.StatusInvalid},
		{2, statuslist.StatusSuspended},
		{3, statuslist.StatusValid},
	}
	for _, tt := range tests {
		status, err := client.Status(context.Background(), "https://issuer/statuslist.json", tt.idx)
		require.NoError(t, err)
		assert.Equal(t, tt.want, status, "index %d", tt.idx)
	}
}

func TestStatusFetchFailureIsUnknown(t *testing.T) {
	client := statuslist.NewClient(&stubClient{err: fmt.Errorf("connection refused")})

	status, err := client.Status(context.Background(), "https://issuer/statuslist.json", 0)
	assert.Error(t, err)
	assert.Equal(t, statuslist.StatusUnknown, status)
}

func TestStatusHTTPErrorCarriesBody(t *testing.T) {
	client := statuslist.NewClient(&stubClient{status: http.StatusNotFound, body: []byte("no such list")})

	status, err := client.Status(context.Background(), "https://issuer/statuslist.json", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "no such list")
	assert.Equal(t, statuslist.StatusUnknown, status)
}

func TestStatusIndexOutOfRange(t *testing.T) {
	client := statuslist.NewClient(&stubClient{status: http.StatusOK, body: listBody(t, 1, []byte{0x00})})

	status, err := client.Status(context.Background(), "https://issuer/statuslist.json", 64)
	assert.Error(t, err)
	assert.Equal(t, statuslist.StatusUnknown, status)
}
