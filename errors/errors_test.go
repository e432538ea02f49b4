package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "op only",
			err:  NewError("login", ErrAuthentication),
			want: "polyanalyst.login: polyanalyst: authentication failed",
		},
		{
			name: "with endpoint",
			err:  NewEndpointError("execute", "project/execute", errors.New("boom")),
			want: "polyanalyst.execute project/execute: boom",
		},
		{
			name: "with endpoint and status",
			err:  NewEndpointError("execute", "project/execute", errors.New("boom")).WithStatus(500),
			want: "polyanalyst.execute project/execute (status 500): boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	err := NewError("request", ErrNotLoggedIn).WithEndpoint("project/nodes")
	assert.True(t, errors.Is(err, ErrNotLoggedIn))
	assert.Equal(t, "project/nodes", err.Endpoint)
}

func TestWithMessageKeepsChain(t *testing.T) {
	err := NewError("configure", ErrInvalidInput).WithMessage("settings cannot be empty")
	assert.True(t, errors.Is(err, ErrInvalidInput))
	assert.Contains(t, err.Error(), "settings cannot be empty")
}

func TestOffsetMismatchError(t *testing.T) {
	t.Run("remote known", func(t *testing.T) {
		err := &OffsetMismatchError{Local: 80, Remote: 40}
		assert.Contains(t, err.Error(), "sent at 80")
		assert.Contains(t, err.Error(), "committed 40")
	})

	t.Run("remote unknown", func(t *testing.T) {
		err := &OffsetMismatchError{Local: 80, Remote: -1}
		assert.Equal(t, "polyanalyst: upload offset mismatch at 80", err.Error())
	})

	t.Run("detected through wrapping", func(t *testing.T) {
		wrapped := &UploadFailedError{Offset: 40, Err: &OffsetMismatchError{Local: 80, Remote: 40}}
		assert.True(t, IsOffsetMismatch(wrapped))
	})

	t.Run("not a mismatch", func(t *testing.T) {
		assert.False(t, IsOffsetMismatch(errors.New("boom")))
		assert.False(t, IsOffsetMismatch(nil))
	})
}

func TestUploadFailedError(t *testing.T) {
	cause := errors.New("connection reset")
	err := &UploadFailedError{Offset: 4096, Err: cause}

	assert.Contains(t, err.Error(), "offset 4096")
	assert.True(t, errors.Is(err, cause))

	var failed *UploadFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, int64(4096), failed.Offset)
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		name string
		err  error
		fn   func(error) bool
		want bool
	}{
		{"authentication sentinel", ErrAuthentication, IsAuthentication, true},
		{"authentication wrapped", NewError("login", ErrAuthentication), IsAuthentication, true},
		{"authentication other", ErrConnectivity, IsAuthentication, false},
		{"connectivity sentinel", ErrConnectivity, IsConnectivity, true},
		{"connectivity wrapped", NewError("request", ErrConnectivity).WithStatus(502), IsConnectivity, true},
		{"connectivity nil", nil, IsConnectivity, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.fn(tt.err))
		})
	}
}
