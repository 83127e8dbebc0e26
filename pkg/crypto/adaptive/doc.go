// Package adaptive provides authenticated encryption for snapshot frames.
//
// A Cipher seals each frame independently with a random nonce prepended to
// the ciphertext. The algorithm is chosen from the hardware:
//
//   - AES-256-GCM on platforms with AES acceleration (amd64, arm64)
//   - XChaCha20-Poly1305 elsewhere
//
// Frame keys are derived from a shared secret with HKDF-SHA256 so every
// snapshot file is sealed under its own key.
//
// Usage:
//
//	key, err := adaptive.DeriveKey(secret, []byte(nonce), "snapstream frame")
//	c, err := adaptive.New(key)
//	sealed, err := c.Seal(payload, aad)
//	payload, err := c.Open(sealed, aad)
package adaptive
