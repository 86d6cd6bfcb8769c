package manifest

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// schema constrains a fully defaulted manifest. Cross-field limits
// (heap size versus node size) are checked by vm.Config.Validate.
const schema = `
#Machine: {
	"heap-words": int & >=768
	"node-words": int & >=12 & <=255
	quantum:      int & >=1
	"max-steps":  int & >=0
	entry:        =~"^[A-Za-z_][A-Za-z0-9_]*$"
}

#Frontend: {
	command: string & !=""
	args: [...string]
	timeout: string
}

#Server: {
	addr:             string & !=""
	history:          string
	"max-concurrent": int & >=1 & <=256
	"max-steps":      int & >=0
}

#Manifest: {
	machine:  #Machine
	frontend: #Frontend
	server:   #Server
}
`

var manifestSchema cue.Value

func init() {
	ctx := cuecontext.New()
	v := ctx.CompileString(schema)
	if err := v.Err(); err != nil {
		panic(fmt.Sprintf("manifest schema: %v", err))
	}
	manifestSchema = v.LookupPath(cue.ParsePath("#Manifest"))
}

func validateSchema(m *Manifest) error {
	v := manifestSchema.Context().Encode(m)
	if err := v.Err(); err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if err := manifestSchema.Unify(v).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid manifest: %w", err)
	}
	return nil
}
