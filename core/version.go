package core

/*------------------------------------------------------------------
 *
 * Purpose:	Version string reporting, in the idiom of the teacher's
 *		version.go.
 *
 *------------------------------------------------------------------*/

import "fmt"

const (
	majorVersion = 0
	minorVersion = 1
	patchVersion = 0
)

// Version returns the human-readable version string, e.g. "0.1.0".
func Version() string {
	return fmt.Sprintf("%d.%d.%d", majorVersion, minorVersion, patchVersion)
}
