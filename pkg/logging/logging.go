// Package logging defines the logger interface shared by every
// component, bridging the concrete logrus implementation used at the
// binary entry points to the rest of the module.
package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logger is a bridging interface between logrus and the rest of the
// module's components.
type Logger interface {
	logrus.FieldLogger
	Writer() *io.PipeWriter
}
