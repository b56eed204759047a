package relaycrypto

import (
	"crypto/hmac"
	"crypto/md5" //nolint:gosec // wire-compatibility requirement, not a security boundary
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// ChallengeSize is the number of random bytes sent as a login challenge.
const ChallengeSize = 64

// GenerateChallenge returns ChallengeSize cryptographically random bytes
// for the server to send as an authentication challenge.
func GenerateChallenge() ([]byte, error) {
	buf := make([]byte, ChallengeSize)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("relaycrypto: generate challenge: %w", err)
	}
	return buf, nil
}

// ChallengeResponse computes HMAC-MD5(key=passwordHashHex, msg=challenge).
// MD5 is deliberately used here, not for strength but because it is the
// digest this protocol has always used on the wire; changing it breaks
// every client that hasn't been rebuilt.
func ChallengeResponse(passwordHashHex string, challenge []byte) []byte {
	mac := hmac.New(md5.New, []byte(passwordHashHex))
	mac.Write(challenge)
	return mac.Sum(nil)
}

// CheckResponse reports whether response is the expected HMAC-MD5 digest
// of challenge under passwordHashHex, in constant time.
func CheckResponse(passwordHashHex string, challenge, response []byte) bool {
	want := ChallengeResponse(passwordHashHex, challenge)
	return hmac.Equal(want, response)
}

// EncodeHex is a small convenience wrapper kept alongside the challenge
// helpers since the challenge travels the wire as a hex string inside
// the "bin" envelope field (the response digest goes back base64-encoded).
func EncodeHex(b []byte) string {
	return hex.EncodeToString(b)
}

// DecodeHex is the inverse of EncodeHex.
func DecodeHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("relaycrypto: decode hex: %w", err)
	}
	return b, nil
}
