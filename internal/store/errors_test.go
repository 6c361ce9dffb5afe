package store

import (
	"errors"
	"fmt"
	"testing"

	"coffer/internal/catalog"

	"github.com/stretchr/testify/require"
)

func TestTranslateKeepsCause(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		cause error
		want  error
	}{
		{name: "bucket exists", cause: catalog.ErrBucketExists, want: ErrBucketAlreadyExists},
		{name: "bucket missing", cause: catalog.ErrBucketNotFound, want: ErrBucketNotFound},
		{name: "object missing", cause: catalog.ErrObjectNotFound, want: ErrObjectNotFound},
		{name: "commit", cause: catalog.ErrCommit, want: ErrTransactionCommit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cause := fmt.Errorf("%w: disk I/O error", tt.cause)
			err := translate("put", "docs/a.txt", cause)

			require.ErrorIs(t, err, tt.want)
			require.ErrorIs(t, err, tt.cause, "catalog error stays in the chain")
			require.Contains(t, err.Error(), "docs/a.txt")
		})
	}

	plain := errors.New("boom")
	require.ErrorIs(t, translate("get", "docs/a.txt", plain), plain)
}
