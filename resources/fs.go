package resources

import "embed"

//go:embed migrations/*.sql i18n/*.yml banned_words.yml
var FS embed.FS
