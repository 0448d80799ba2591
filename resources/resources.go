package resources

import "embed"

//go:embed migrations templates
var FS embed.FS
