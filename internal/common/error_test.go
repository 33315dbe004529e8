package common

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestConvertFirestoreError(t *testing.T) {
	cases := []struct {
		name      string
		code      codes.Code
		want      ErrorCode
		transient bool
	}{
		{"precondition", codes.FailedPrecondition, ErrCodeConcurrentUpdate, false},
		{"permission", codes.PermissionDenied, ErrCodeStoreConnection, false},
		{"unavailable", codes.Unavailable, ErrCodeStoreWrite, true},
		{"aborted", codes.Aborted, ErrCodeStoreWrite, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ConvertFirestoreError(ErrStoreWrite, status.Error(tc.code, "rpc"))
			assert.True(t, IsCode(err, tc.want), "got %v", err)
			assert.Equal(t, tc.transient, IsTransient(err))
		})
	}

	assert.True(t, errors.Is(ConvertFirestoreError(ErrStoreRead, status.Error(codes.NotFound, "gone")), ErrNotFound))
	assert.Nil(t, ConvertFirestoreError(ErrStoreRead, nil))
}

func TestWrapKeepsCode(t *testing.T) {
	err := Wrap(ErrConcurrentUpdate, nil, "v1")
	assert.True(t, errors.Is(err, ErrConcurrentUpdate))
	assert.False(t, errors.Is(err, ErrStoreWrite))
	assert.Equal(t, "Document đã bị sửa sau lần đọc gần nhất", err.Error())
}
