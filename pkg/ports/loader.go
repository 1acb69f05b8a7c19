package ports

import (
	"context"

	"github.com/pergolahq/pergola/pkg/domain"
)

// FlowLoader retrieves fully-resolved flow configurations by name. Loaders
// own inheritance/mixin resolution and variable substitution; the engine
// only ever sees flat, validated configurations.
type FlowLoader interface {
	Load(ctx context.Context, name string) (*domain.FlowConfig, error)
}
