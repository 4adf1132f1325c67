package ports

import "context"

// SecretStore keeps credentials out of the config file. Keys are
// slash-separated paths such as "redpost/bitable/app_secret".
type SecretStore interface {
	Put(ctx context.Context, key string, value string) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}
