package transport

import (
	"bytes"
	"io"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

const methodInitialize = "initialize"

// readBody drains the request body, decodes it as a JSON-RPC message when
// it is well formed, and restores the raw bytes so the transport sees the
// body unchanged. A body that does not decode is passed through as is; the
// transport decides how to reject it.
func readBody(r *http.Request) ([]byte, jsonrpc.Message, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil, nil
	}
	raw, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil {
		return raw, nil, err
	}
	msg, decodeErr := jsonrpc.DecodeMessage(raw)
	if decodeErr != nil {
		return raw, nil, nil
	}
	return raw, msg, nil
}

func isInitialize(msg jsonrpc.Message) bool {
	req, ok := msg.(*jsonrpc.Request)
	return ok && req.Method == methodInitialize
}
