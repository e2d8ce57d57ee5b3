package providers

import (
	"github.com/smallbiznis/revlens/internal/providers/digest"
	"github.com/smallbiznis/revlens/internal/providers/stripe"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	digest.Module,
	stripe.Module,
)
