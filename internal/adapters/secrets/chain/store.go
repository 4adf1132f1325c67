package chain

import (
	"context"
	"errors"
	"fmt"

	filestore "github.com/bnema/redpost/internal/adapters/secrets/file"
	passstore "github.com/bnema/redpost/internal/adapters/secrets/pass"
	"github.com/bnema/redpost/internal/ports"
)

// Store tries each backend in order and settles on the first that
// succeeds. Writes land in the first backend that accepts them, so a
// working pass install always wins over the plain-file fallback.
type Store struct {
	backends []ports.SecretStore
}

var _ ports.SecretStore = (*Store)(nil)

func NewStore(backends ...ports.SecretStore) (*Store, error) {
	if len(backends) == 0 {
		return nil, errors.New("secret chain needs at least one backend")
	}
	for i, backend := range backends {
		if backend == nil {
			return nil, fmt.Errorf("secret chain backend %d is nil", i)
		}
	}
	return &Store{backends: backends}, nil
}

// NewDefault chains pass ahead of a plain-file store rooted at fileRoot.
func NewDefault(fileRoot string) (*Store, error) {
	return NewStore(passstore.NewStore(), filestore.NewStore(nil, fileRoot))
}

func (s *Store) Put(ctx context.Context, key string, value string) error {
	return s.each(func(backend ports.SecretStore) error {
		return backend.Put(ctx, key, value)
	})
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.each(func(backend ports.SecretStore) error {
		var getErr error
		value, getErr = backend.Get(ctx, key)
		return getErr
	})
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.each(func(backend ports.SecretStore) error {
		return backend.Delete(ctx, key)
	})
}

// each walks the backends until one succeeds. Context cancellation
// stops the walk; every other failure falls through to the next
// backend and the errors accumulate.
func (s *Store) each(op func(ports.SecretStore) error) error {
	var failures []error
	for _, backend := range s.backends {
		err := op(backend)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		failures = append(failures, err)
	}
	return errors.Join(failures...)
}
