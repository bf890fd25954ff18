package bundler

import "github.com/evanw/esbuild/pkg/api"

func loaderName(l api.Loader) string {
	switch l {
	case api.LoaderTS:
		return "ts"
	case api.LoaderTSX:
		return "tsx"
	case api.LoaderJSON:
		return "json"
	case api.LoaderJS:
		return "js"
	default:
		return "other"
	}
}
