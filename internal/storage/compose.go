package storage

import (
	"errors"
	"io"
)

type composite struct {
	ClientStore
	AuthCodeStore
	SessionStore
}

// Compose builds a Storage from independent sub-stores, e.g. clients in S3,
// codes and sessions in Redis. Close closes every distinct sub-store that
// implements io.Closer once.
func Compose(clients ClientStore, codes AuthCodeStore, sessions SessionStore) Storage {
	return &composite{
		ClientStore:   clients,
		AuthCodeStore: codes,
		SessionStore:  sessions,
	}
}

func (c *composite) Close() error {
	var errs []error
	seen := make([]io.Closer, 0, 3)
	for _, part := range []any{c.ClientStore, c.AuthCodeStore, c.SessionStore} {
		closer, ok := part.(io.Closer)
		if !ok || containsCloser(seen, closer) {
			continue
		}
		seen = append(seen, closer)
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func containsCloser(list []io.Closer, c io.Closer) bool {
	for _, existing := range list {
		if existing == c {
			return true
		}
	}
	return false
}
