package core

/*------------------------------------------------------------------
 *
 * Purpose:	Leveled, colored logging used throughout this package.
 *
 * Description:	The teacher this code is adapted from prints everything
 *		through a global text_color_set(DW_COLOR_*) + dw_printf(...)
 *		pair: set a color, then printf. We keep that two-step shape
 *		-- pick a level, then log -- but back it with a real
 *		structured logger instead of raw ANSI escapes.
 *
 *------------------------------------------------------------------*/

import (
	"os"

	"github.com/charmbracelet/log"
)

// Logger is the package-wide logger. It is a var, not a const,
// because cmd/etherdream-play reconfigures it (e.g. --debug raises the
// level) before wiring up the rest of the package.
var Logger = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: true,
	TimeFormat:      "15:04:05",
})

func logInfo(format string, args ...any) {
	Logger.Infof(format, args...)
}

func logWarn(format string, args ...any) {
	Logger.Warnf(format, args...)
}

func logError(format string, args ...any) {
	Logger.Errorf(format, args...)
}

func logDebug(format string, args ...any) {
	Logger.Debugf(format, args...)
}
