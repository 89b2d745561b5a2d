package gatewayerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessageIncludesCode(t *testing.T) {
	err := New(CodeNodeNotExist, "node not found")
	assert.Contains(t, err.Error(), "NODE_NOT_EXIST")
	assert.Contains(t, err.Error(), "node not found")
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := Wrap(CodePluginDisconnected, "connect failed", cause)
	assert.ErrorIs(t, err, cause)
}

func TestWithAttachesDetails(t *testing.T) {
	err := New(CodeGroupNotExist, "group missing").With("group", "g1")
	assert.Equal(t, "g1", err.Details["group"])
}

func TestCodeOfUnwrapsChain(t *testing.T) {
	err := NotFound(CodeNodeNotExist, "node", "d1")
	wrapped := errors.Join(errors.New("context"), err)
	assert.Equal(t, CodeNodeNotExist, CodeOf(wrapped))
}

func TestCodeOfDefaultsToInternal(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
}

func TestCodeOfNilIsSuccess(t *testing.T) {
	assert.Equal(t, CodeSuccess, CodeOf(nil))
}
