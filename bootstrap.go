package jshost

import (
	"fmt"
	"strings"

	esbuild "github.com/evanw/esbuild/pkg/api"
)

// transformBootstrap runs the bootstrap script through esbuild when a
// loader is configured, producing a single IIFE the runtime can evaluate.
// With no loader the source is returned as-is.
func transformBootstrap(source, loader string) (string, error) {
	var l esbuild.Loader
	switch strings.ToLower(loader) {
	case "":
		return source, nil
	case "js":
		l = esbuild.LoaderJS
	case "ts":
		l = esbuild.LoaderTS
	default:
		return "", fmt.Errorf("unknown bootstrap loader %q", loader)
	}

	result := esbuild.Transform(source, esbuild.TransformOptions{
		Loader:     l,
		Format:     esbuild.FormatIIFE,
		Target:     esbuild.ES2020,
		Sourcefile: "bootstrap",
	})
	if len(result.Errors) > 0 {
		var msgs []string
		for _, e := range result.Errors {
			msgs = append(msgs, e.Text)
		}
		return "", fmt.Errorf("transforming bootstrap script: %s", strings.Join(msgs, "; "))
	}
	return string(result.Code), nil
}
