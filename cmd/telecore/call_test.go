package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tiatele/telecore/rpc"
)

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"msg=hello", "page=2", "ok=true", "empty=", "obj={\"a\":1}", "ver=1.2.3"})
	require.NoError(t, err)
	require.Equal(t, rpc.Params{
		"msg":   "hello",
		"page":  json.Number("2"),
		"ok":    true,
		"empty": "",
		"obj":   `{"a":1}`,
		"ver":   "1.2.3",
	}, params)

	_, err = parseParams([]string{"novalue"})
	require.Error(t, err)
	_, err = parseParams([]string{"=x"})
	require.Error(t, err)
}
