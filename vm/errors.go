package vm

import (
	"fmt"

	"github.com/cloudcmds/petrel/object"
)

// ThrownObject carries an unhandled guest throwable across a VM nesting
// boundary. The embedder (or an outer interpretation context) receives it as
// an ordinary error; it holds one reference on the throwable.
type ThrownObject struct {
	Object *object.Instance
}

func (t *ThrownObject) Error() string {
	if msg := object.Message(t.Object); msg != "" {
		return fmt.Sprintf("uncaught %s: %s", t.Object.Class().Name(), msg)
	}
	if t.Object != nil {
		return fmt.Sprintf("uncaught %s", t.Object.Class().Name())
	}
	return "uncaught guest exception"
}
