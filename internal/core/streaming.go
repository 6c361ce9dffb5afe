package core

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// streamingPayloadPrefix marks the x-amz-content-sha256 values whose body is
// aws-chunked encoded, with or without chunk signatures and trailers.
const streamingPayloadPrefix = "STREAMING-"

var errPayloadTooLarge = errors.New("payload exceeds maximum object size")

func isStreamingPayload(contentSHA string) bool {
	return strings.HasPrefix(strings.ToUpper(contentSHA), streamingPayloadPrefix)
}

// decodeStreamingPayload decodes an aws-chunked body into dst and returns
// the decoded length. Chunk signatures and trailing headers (checksums,
// trailer signatures) are not verified.
func decodeStreamingPayload(dst io.Writer, body io.Reader, limit int64) (int64, error) {
	br := bufio.NewReader(body)

	var written int64
	buf := make([]byte, 32*1024)

	for {
		// Each chunk begins with: <size-hex>[;extensions]\r\n
		line, err := br.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return 0, errors.New("unexpected EOF while reading chunk header")
			}
			return 0, fmt.Errorf("read chunk header: %w", err)
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		// Strip any chunk extensions (e.g. ";chunk-signature=...").
		if idx := strings.IndexByte(line, ';'); idx != -1 {
			line = line[:idx]
		}

		sizeHex := strings.TrimSpace(line)
		size, err := strconv.ParseInt(sizeHex, 16, 64)
		if err != nil {
			return 0, fmt.Errorf("parse chunk size %q: %w", sizeHex, err)
		}
		if size < 0 {
			return 0, fmt.Errorf("negative chunk size %q", sizeHex)
		}

		if size == 0 {
			// Whatever follows the final chunk is trailers.
			break
		}

		if limit >= 0 && written+size > limit {
			return 0, errPayloadTooLarge
		}

		limited := &io.LimitedReader{R: br, N: size}
		n, err := io.CopyBuffer(dst, limited, buf)
		if err != nil {
			return 0, fmt.Errorf("read chunk body: %w", err)
		}
		if n != size {
			return 0, fmt.Errorf("short read while reading chunk body: expected %d bytes, got %d", size, n)
		}
		written += n

		if err := expectCRLF(br); err != nil {
			return 0, err
		}
	}

	return written, nil
}

func expectCRLF(br *bufio.Reader) error {
	for _, want := range []byte{'\r', '\n'} {
		b, err := br.ReadByte()
		if err != nil {
			return fmt.Errorf("read chunk terminator: %w", err)
		}
		if b != want {
			return fmt.Errorf("expected %q after chunk, got %q", want, b)
		}
	}
	return nil
}
