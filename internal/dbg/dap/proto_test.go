package dap

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var headerTests = []struct {
	input  string
	length int64
	valid  bool
}{
	{input: "Content-Length: 12\r\n\r\n", length: 12, valid: true},
	{input: "Content-Length:7\n\n", length: 7, valid: true},
	{input: "content-length: 3\r\n\r\n", length: 3, valid: true},
	{input: "Content-Type: application/vscode-jsonrpc\r\nContent-Length: 5\r\n\r\n", length: 5, valid: true},
	{input: "Content-Length: 0\r\n\r\n", length: 0, valid: true},
	{input: "Content-Type: application/vscode-jsonrpc\r\n\r\n", valid: false},
	{input: "Content-Length: abc\r\n\r\n", valid: false},
	{input: "Content-Length: -4\r\n\r\n", valid: false},
	{input: "garbage\r\n\r\n", valid: false},
	{input: "Content-Length: 5\r\n", valid: false},
}

func TestReadHeader(t *testing.T) {
	for i, test := range headerTests {
		n, err := readHeader(bufio.NewReader(strings.NewReader(test.input)))
		if !test.valid {
			assert.Error(t, err, "test #%d", i)
			continue
		}
		require.NoError(t, err, "test #%d", i)
		assert.Equal(t, test.length, n, "test #%d", i)
	}
}

func TestWriteMessage(t *testing.T) {
	var buf bytes.Buffer
	ev := newEvent("initialized", nil)
	ev.setSeq(4)
	require.NoError(t, writeMessage(&buf, ev))

	body := `{"seq":4,"type":"event","event":"initialized"}`
	assert.Equal(t, "Content-Length: 46\r\n\r\n"+body, buf.String())
}

func TestReadMessages(t *testing.T) {
	var buf bytes.Buffer
	req := &request{baseMessage: baseMessage{Seq: 1, Type: "request"}, Command: "continue", Arguments: []byte(`{"threadId":1}`)}
	require.NoError(t, writeMessage(&buf, req))
	resp := newErrResponse(req, int(notAttachedErr), req.Command, notAttachedErr.String(), "details", false)
	resp.setSeq(2)
	require.NoError(t, writeMessage(&buf, resp))

	r := bufio.NewReader(&buf)
	m, err := readMessage(r)
	require.NoError(t, err)
	got, ok := m.(*request)
	require.True(t, ok)
	assert.Equal(t, "continue", got.Command)
	assert.JSONEq(t, `{"threadId":1}`, string(got.Arguments))

	m, err = readMessage(r)
	require.NoError(t, err)
	gotResp, ok := m.(*response)
	require.True(t, ok)
	assert.Equal(t, 2, gotResp.Seq)
	assert.Equal(t, 1, gotResp.RequestSeq)
	assert.False(t, gotResp.Success)
	assert.Equal(t, "No runtime attached", gotResp.Message)
	assert.Equal(t, float64(notAttachedErr), gotResp.Body["error"].(map[string]interface{})["id"])
}

func TestReadMessageUnknownType(t *testing.T) {
	input := "Content-Length: 24\r\n\r\n{\"seq\":1,\"type\":\"bogus\"}"
	_, err := readMessage(bufio.NewReader(strings.NewReader(input)))
	assert.Error(t, err)
}

var dapErrorTests = []struct {
	err  dapError
	want string
}{
	{err: processingErr, want: "Processing error"},
	{err: notAttachedErr, want: "No runtime attached"},
	{err: dapError(42), want: "dapError(42)"},
	{err: dapError(-1), want: "dapError(-1)"},
}

func TestDAPErrorString(t *testing.T) {
	for i, test := range dapErrorTests {
		assert.Equal(t, test.want, test.err.String(), "test #%d", i)
	}
}
