package util

import (
	"crypto/rand"
	"math/big"

	"github.com/pkg/errors"
)

const (
	base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	idLength    = 10
)

// GenID mints a crypto-random base62 share id, retrying on the (unlikely)
// collision reported by exists.
func GenID(exists func(string) (bool, error)) (string, error) {
	for retry := 0; retry < 5; retry++ {
		id, err := randomID(idLength)
		if err != nil {
			return "", err
		}
		exist, err := exists(id)
		if err != nil {
			return "", err
		}
		if !exist {
			return id, nil
		}
	}
	return "", errors.New("id collision after 5 retries")
}

func randomID(n int) (string, error) {
	max := big.NewInt(int64(len(base62Chars)))
	buf := make([]byte, n)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", errors.Wrap(err, "rand fail")
		}
		buf[i] = base62Chars[idx.Int64()]
	}
	return string(buf), nil
}
