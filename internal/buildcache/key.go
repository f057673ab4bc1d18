package buildcache

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/lucent-lang/lucentc/internal/target"
)

// DigestKey derives a cache Key from the raw IL wire bytes and the
// target kernel: the same program compiles differently per kernel
// (symbol prefixing), so the kernel must be part of the key.
func DigestKey(ilJSON []byte, kernel target.Kernel) Key {
	h := sha256.New()
	h.Write(ilJSON)
	h.Write([]byte{byte(kernel)})

	return Key(hex.EncodeToString(h.Sum(nil)))
}
