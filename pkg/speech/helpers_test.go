package speech

import "github.com/dotsetgreg/personarelay/pkg/providers"

func staticAuth(key string) providers.AuthStrategy {
	return providers.NewHeaderAuth("xi-api-key", providers.NewStaticTokenSource(key, "test"))
}
