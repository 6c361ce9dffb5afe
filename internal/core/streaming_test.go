package core

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeStreamingPayload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		limit   int64
		want    string
		wantErr bool
	}{
		{
			name:  "signed chunks",
			body:  "5;chunk-signature=abc\r\nhello\r\n6;chunk-signature=def\r\n world\r\n0;chunk-signature=fin\r\n\r\n",
			limit: -1,
			want:  "hello world",
		},
		{
			name:  "unsigned chunks with trailer",
			body:  "3\r\nabc\r\n0\r\nx-amz-checksum-crc32:AAAAAA==\r\n\r\n",
			limit: -1,
			want:  "abc",
		},
		{
			name:  "empty payload",
			body:  "0\r\n\r\n",
			limit: -1,
			want:  "",
		},
		{
			name:    "truncated chunk",
			body:    "a\r\nshort",
			limit:   -1,
			wantErr: true,
		},
		{
			name:    "bad size",
			body:    "zz\r\n",
			limit:   -1,
			wantErr: true,
		},
		{
			name:    "missing terminator",
			body:    "3\r\nabcX\n0\r\n\r\n",
			limit:   -1,
			wantErr: true,
		},
		{
			name:    "missing final chunk",
			body:    "3\r\nabc\r\n",
			limit:   -1,
			wantErr: true,
		},
		{
			name:    "over limit",
			body:    "5\r\nhello\r\n0\r\n\r\n",
			limit:   4,
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			n, err := decodeStreamingPayload(&buf, strings.NewReader(tc.body), tc.limit)
			if tc.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.want, buf.String())
			require.EqualValues(t, len(tc.want), n)
		})
	}
}

func TestIsStreamingPayload(t *testing.T) {
	t.Parallel()

	require.True(t, isStreamingPayload("STREAMING-AWS4-HMAC-SHA256-PAYLOAD"))
	require.True(t, isStreamingPayload("STREAMING-UNSIGNED-PAYLOAD-TRAILER"))
	require.False(t, isStreamingPayload("UNSIGNED-PAYLOAD"))
	require.False(t, isStreamingPayload(""))
}
