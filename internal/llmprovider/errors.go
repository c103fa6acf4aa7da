package llmprovider

import (
	"fmt"

	"github.com/Onegaishimas/bin2nlp/internal/bin2nlperr"
	"github.com/Onegaishimas/bin2nlp/internal/types"
)

func configError(kind types.ProviderKind, msg string) error {
	return bin2nlperr.New(bin2nlperr.Validation, "llmprovider", fmt.Sprintf("%s: %s", kind, msg))
}
