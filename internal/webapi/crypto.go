package webapi

import (
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"github.com/google/uuid"

	"github.com/cryguy/jshost/internal/core"
)

// maxRandomBytes matches the Web Crypto quota for getRandomValues.
const maxRandomBytes = 65536

const cryptoJS = `
(function() {
	var crypto = globalThis.crypto || {};
	crypto.getRandomValues = function(arr) {
		if (!ArrayBuffer.isView(arr)) throw new TypeError('getRandomValues: argument must be a typed array');
		var view = new Uint8Array(arr.buffer, arr.byteOffset, arr.byteLength);
		view.set(__hexToBytes(__cryptoRandomHex(view.length)));
		return arr;
	};
	crypto.randomUUID = function() { return __cryptoRandomUUID(); };
	crypto.subtle = crypto.subtle || {};
	crypto.subtle.digest = function(algorithm, data) {
		try {
			var name = typeof algorithm === 'string' ? algorithm : algorithm.name;
			var out = __hexToBytes(__cryptoDigest(name, __bytesToHex(__toBytes(data))));
			return Promise.resolve(out.buffer);
		} catch (e) {
			return Promise.reject(e);
		}
	};
	globalThis.crypto = crypto;
})();
`

// newDigest maps a Web Crypto algorithm name to a hash.
func newDigest(algo string) (hash.Hash, error) {
	switch strings.ToUpper(algo) {
	case "SHA-1":
		return sha1.New(), nil
	case "SHA-256":
		return sha256.New(), nil
	case "SHA-384":
		return sha512.New384(), nil
	case "SHA-512":
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("unsupported digest algorithm %q", algo)
	}
}

// SetupCrypto registers crypto.getRandomValues, crypto.randomUUID and
// crypto.subtle.digest.
func SetupCrypto(rt core.JSRuntime, _ core.Host) error {
	if err := rt.RegisterFunc("__cryptoRandomHex", func(n int) (string, error) {
		if n < 0 || n > maxRandomBytes {
			return "", fmt.Errorf("getRandomValues: byte length %d exceeds %d", n, maxRandomBytes)
		}
		buf := make([]byte, n)
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		return hex.EncodeToString(buf), nil
	}); err != nil {
		return fmt.Errorf("registering __cryptoRandomHex: %w", err)
	}

	if err := rt.RegisterFunc("__cryptoRandomUUID", func() string {
		return uuid.NewString()
	}); err != nil {
		return fmt.Errorf("registering __cryptoRandomUUID: %w", err)
	}

	if err := rt.RegisterFunc("__cryptoDigest", func(algo, dataHex string) (string, error) {
		data, err := hex.DecodeString(dataHex)
		if err != nil {
			return "", fmt.Errorf("digest: invalid data")
		}
		h, err := newDigest(algo)
		if err != nil {
			return "", err
		}
		h.Write(data)
		return hex.EncodeToString(h.Sum(nil)), nil
	}); err != nil {
		return fmt.Errorf("registering __cryptoDigest: %w", err)
	}

	return rt.Eval(cryptoJS)
}
