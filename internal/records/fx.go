package records

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/hookrelay/internal/records/repository"
)

var Module = fx.Module("records",
	fx.Provide(repository.Provide),
)
