package pkg

import "fmt"

var (
	// These variables are here only to show current version. They are set in makefile during build process
	GapseqVersion         = "devel"
	GitRevision           = "devel"
	GapseqVersionRevision = fmt.Sprintf("%s-%s", GapseqVersion, GitRevision)
)
