//go:build tools

package pairchat

import (
	_ "go.uber.org/mock/mockgen"
)
