// Package common hosts the process-wide logrus logger kgraphsvc's packages log
// through, plus the small generic helpers (MaskSecret, Ptr) that don't belong
// to any one package.
package common

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter is an io.Writer that routes logrus output by severity: error
// entries go to stderr so they surface in orchestrator crash/alert pipelines,
// everything else goes to stdout. It inspects the formatted line rather than
// a logrus.Level because logrus calls Write after formatting, not before.
type OutputSplitter struct{}

// Write implements io.Writer, splitting on the error-level marker of either
// formatter: "level=error" from the text formatter, "level":"error" from the
// JSON formatter.
func (splitter *OutputSplitter) Write(p []byte) (n int, err error) {
	if bytes.Contains(p, []byte("level=error")) || bytes.Contains(p, []byte(`"level":"error"`)) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is the default logger used by any component that doesn't construct
// its own via NewLogger. cli.runServer replaces it wholesale once the
// configured level and format are known.
var Logger = logrus.New()

func init() {
	Logger.SetOutput(&OutputSplitter{})
}
