//go:build v8

package jshost

import (
	"github.com/cryguy/jshost/internal/core"
	"github.com/cryguy/jshost/internal/v8engine"
)

func defaultRuntimeFactory() core.RuntimeFactory {
	return v8engine.New
}
