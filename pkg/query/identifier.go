package query

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/bfast/bfast-go/pkg/apperr"
)

// Identifier derives the cache identifier of a read operation. Equal
// operation, domain and payload always yield the same identifier.
func Identifier(operation, domain string, payload any) (string, error) {
	var body []byte
	switch p := payload.(type) {
	case Pipeline:
		encoded, err := EncodePipeline(p)
		if err != nil {
			return "", err
		}
		body = []byte(encoded)
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return "", apperr.Validation("cannot derive cache identifier: %v", err)
		}
		body = b
	}

	h := sha256.New()
	h.Write([]byte(operation))
	h.Write([]byte{0})
	h.Write([]byte(domain))
	h.Write([]byte{0})
	h.Write(body)
	return operation + "_" + domain + "_" + hex.EncodeToString(h.Sum(nil)), nil
}
