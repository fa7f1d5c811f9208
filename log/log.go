package log

import (
	"os"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

// SetLogging sets log using in this application. Colors are enabled only when
// stdout is a terminal.
func SetLogging() {
	logrus.SetLevel(logrus.InfoLevel)
	logrus.SetOutput(os.Stdout)
	isTTY := term.IsTerminal(int(os.Stdout.Fd()))
	logrus.SetFormatter(&logrus.TextFormatter{
		ForceColors:   isTTY,
		DisableColors: !isTTY,
		FullTimestamp: true,
	})
}
