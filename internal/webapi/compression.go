package webapi

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"

	"github.com/cryguy/jshost/internal/core"
)

// maxDecompressedSize caps decompression output to guard against bombs.
const maxDecompressedSize = 128 * 1024 * 1024

const compressionJS = `
(function() {
	globalThis.compression = {
		compress: function(format, data) {
			return __hexToBytes(__compress(String(format), __bytesToHex(__toBytes(data))));
		},
		decompress: function(format, data) {
			return __hexToBytes(__decompress(String(format), __bytesToHex(__toBytes(data))));
		}
	};
})();
`

// newCompressWriter creates a compression writer for the given format.
func newCompressWriter(buf *bytes.Buffer, format string) (io.WriteCloser, error) {
	switch format {
	case "gzip":
		return gzip.NewWriter(buf), nil
	case "deflate":
		return zlib.NewWriter(buf), nil
	case "deflate-raw":
		return flate.NewWriter(buf, flate.DefaultCompression)
	case "br":
		return brotli.NewWriter(buf), nil
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

// newDecompressReader creates a decompression reader for the given format.
func newDecompressReader(data []byte, format string) (io.Reader, error) {
	switch format {
	case "gzip":
		return gzip.NewReader(bytes.NewReader(data))
	case "deflate":
		return zlib.NewReader(bytes.NewReader(data))
	case "deflate-raw":
		return flate.NewReader(bytes.NewReader(data)), nil
	case "br":
		return brotli.NewReader(bytes.NewReader(data)), nil
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

// Compress encodes data with format: gzip, deflate, deflate-raw or br.
func Compress(format string, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := newCompressWriter(&buf, format)
	if err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress.
func Decompress(format string, data []byte) ([]byte, error) {
	r, err := newDecompressReader(data, format)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	result, err := io.ReadAll(io.LimitReader(r, int64(maxDecompressedSize)+1))
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	if len(result) > maxDecompressedSize {
		return nil, fmt.Errorf("decompress: output exceeds maximum allowed size")
	}
	if c, ok := r.(io.Closer); ok {
		_ = c.Close()
	}
	return result, nil
}

// SetupCompression registers the bulk compress/decompress bridge.
func SetupCompression(rt core.JSRuntime, _ core.Host) error {
	if err := rt.RegisterFunc("__compress", func(format, dataHex string) (string, error) {
		data, err := hex.DecodeString(dataHex)
		if err != nil {
			return "", fmt.Errorf("compress: invalid data")
		}
		out, err := Compress(format, data)
		if err != nil {
			return "", err
		}
		return hex.EncodeToString(out), nil
	}); err != nil {
		return fmt.Errorf("registering __compress: %w", err)
	}

	if err := rt.RegisterFunc("__decompress", func(format, dataHex string) (string, error) {
		data, err := hex.DecodeString(dataHex)
		if err != nil {
			return "", fmt.Errorf("decompress: invalid data")
		}
		out, err := Decompress(format, data)
		if err != nil {
			return "", err
		}
		return hex.EncodeToString(out), nil
	}); err != nil {
		return fmt.Errorf("registering __decompress: %w", err)
	}

	return rt.Eval(compressionJS)
}
