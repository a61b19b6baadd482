package rest

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"net/url"

	"github.com/pkg/errors"
)

// Sign computes API-Sign for a private call:
// base64(HMAC-SHA512(path + SHA256(nonce + postdata), base64decode(secret))).
func Sign(path string, form url.Values, secret string) (string, error) {
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return "", errors.Wrap(err, "decode api secret")
	}
	sha := sha256.New()
	sha.Write([]byte(form.Get("nonce") + form.Encode()))

	mac := hmac.New(sha512.New, key)
	mac.Write(append([]byte(path), sha.Sum(nil)...))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}
