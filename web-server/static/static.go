package static

import (
	_ "embed"
)

// Index is the single panic button page.
//
//go:embed index.html
var Index []byte
