package common

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewError(t *testing.T) {
	resp := NewError(CodeNotFound, "政策文件不存在")
	assert.False(t, resp.Success)
	assert.Equal(t, "not_found", resp.Code)

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"code":"not_found","message":"政策文件不存在"}`, string(data))
}

func TestAPIResponse_OmitEmpty(t *testing.T) {
	data, err := json.Marshal(APIResponse{Success: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true}`, string(data))
}
