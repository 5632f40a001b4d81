package handlers

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"strings"

	tuserr "github.com/tusflow/tusflow/internal/errors"
)

// verifyChecksum validates the chunk body against an Upload-Checksum header
// of the form "<algorithm> <base64 digest>". It returns nil when the header
// is empty. Verification happens before any byte reaches the backend.
func verifyChecksum(header string, data []byte) error {
	if header == "" {
		return nil
	}

	alg, encoded, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || alg == "" || encoded == "" {
		return tuserr.ErrUnsupportedAlgorithm.WithMessage("Invalid Upload-Checksum header")
	}

	expected, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return tuserr.ErrUnsupportedAlgorithm.WithMessage("Invalid Upload-Checksum digest encoding")
	}

	var actual []byte
	switch strings.ToLower(alg) {
	case "md5":
		sum := md5.Sum(data)
		actual = sum[:]
	case "sha1":
		sum := sha1.Sum(data)
		actual = sum[:]
	case "sha256":
		sum := sha256.Sum256(data)
		actual = sum[:]
	case "sha512":
		sum := sha512.Sum512(data)
		actual = sum[:]
	default:
		return tuserr.ErrUnsupportedAlgorithm
	}

	if subtle.ConstantTimeCompare(expected, actual) != 1 {
		return tuserr.ErrChecksumMismatch
	}
	return nil
}
