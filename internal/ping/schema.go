package ping

import (
	"fmt"

	"github.com/invopop/jsonschema"
)

// Schema reflects the JSON schema of the ping wire document.
func Schema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		ExpandedStruct: true,
		DoNotReference: true,
	}
	s := r.Reflect(&Document{})
	s.ID = jsonschema.ID(fmt.Sprintf("https://telemetry.mozilla.org/schemas/eng-workflow/hgpush/hgpush.%d.schema.json", SchemaVersion))
	s.Title = "hgpush"
	s.Description = fmt.Sprintf("Review system telemetry for one repository push, version %d", SchemaVersion)
	return s
}
