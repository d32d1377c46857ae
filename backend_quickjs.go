//go:build !v8

package jshost

import (
	"github.com/cryguy/jshost/internal/core"
	"github.com/cryguy/jshost/internal/quickjs"
)

func defaultRuntimeFactory() core.RuntimeFactory {
	return quickjs.New
}
