package bundler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"path/filepath"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/disco0/usbundle/internal/importmap"
)

// ESBuild bundles with esbuild.
type ESBuild struct {
	target api.Target
	remote *remoteLoader
	logger *slog.Logger
}

// Option configures an ESBuild bundler.
type Option func(*ESBuild)

// WithHTTPClient sets the client used to fetch remote modules.
func WithHTTPClient(c *http.Client) Option {
	return func(b *ESBuild) {
		b.remote.client = c
	}
}

// WithLogger sets a logger for the bundler.
func WithLogger(logger *slog.Logger) Option {
	return func(b *ESBuild) {
		b.logger = logger
	}
}

// NewESBuild creates an esbuild-backed Bundler. Remote modules fetched
// during one build are cached for the lifetime of the bundler.
func NewESBuild(opts ...Option) *ESBuild {
	b := &ESBuild{
		target: api.ES2020,
		remote: newRemoteLoader(http.DefaultClient),
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Bundle compiles req.Entrypoint and its imports into one script.
func (b *ESBuild) Bundle(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	format := api.FormatIIFE
	switch req.ModuleType {
	case "", ModuleClassic:
	case ModuleESM:
		format = api.FormatESModule
	default:
		return "", fmt.Errorf("unsupported module type %q", req.ModuleType)
	}

	plugins := []api.Plugin{b.remote.plugin(ctx, b.logger)}
	if req.ImportMap.Len() > 0 {
		plugins = append([]api.Plugin{importMapPlugin(req.ImportMap)}, plugins...)
	}

	result := api.Build(api.BuildOptions{
		EntryPoints:   []string{req.Entrypoint},
		AbsWorkingDir: filepath.Dir(req.Entrypoint),
		Bundle:        true,
		Write:         false,
		Format:        format,
		Platform:      api.PlatformBrowser,
		Target:        b.target,
		Charset:       api.CharsetUTF8,
		LogLevel:      api.LogLevelSilent,
		Plugins:       plugins,
	})

	for _, w := range result.Warnings {
		b.logger.Warn("bundler warning", slog.String("message", toMessage(w).String()))
	}

	if len(result.Errors) > 0 {
		msgs := make([]Message, 0, len(result.Errors))
		for _, m := range result.Errors {
			msgs = append(msgs, toMessage(m))
		}

		return "", &Error{Messages: msgs}
	}

	if len(result.OutputFiles) == 0 {
		return "", &Error{Messages: []Message{{Text: "bundler produced no output"}}}
	}

	return string(result.OutputFiles[0].Contents), nil
}

func toMessage(m api.Message) Message {
	msg := Message{Text: m.Text}
	if m.Location != nil {
		msg.File = m.Location.File
		msg.Line = m.Location.Line
		msg.Column = m.Location.Column
	}

	return msg
}

// skipImportMap marks resolutions issued by importMapPlugin itself.
type skipImportMap struct{}

// importMapPlugin rewrites specifiers listed in m. Remote targets are handed
// to the remote loader; bare targets are resolved by esbuild as usual.
func importMapPlugin(m *importmap.ImportMap) api.Plugin {
	return api.Plugin{
		Name: "usbundle-import-map",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: ".*"},
				func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					if args.Kind == api.ResolveEntryPoint || args.Namespace == remoteNamespace {
						return api.OnResolveResult{}, nil
					}

					if _, ok := args.PluginData.(skipImportMap); ok {
						return api.OnResolveResult{}, nil
					}

					target, ok := m.Resolve(args.Path)
					if !ok {
						return api.OnResolveResult{}, nil
					}

					switch {
					case isHTTP(target):
						return api.OnResolveResult{Path: target, Namespace: remoteNamespace}, nil
					case importmap.IsRemote(target):
						return api.OnResolveResult{Path: target, External: true}, nil
					case filepath.IsAbs(target):
						return api.OnResolveResult{Path: filepath.Clean(target)}, nil
					}

					res := build.Resolve(target, api.ResolveOptions{
						Importer:   args.Importer,
						ResolveDir: args.ResolveDir,
						Kind:       args.Kind,
						PluginData: skipImportMap{},
					})
					if len(res.Errors) > 0 {
						return api.OnResolveResult{}, fmt.Errorf("resolving %q mapped to %q: %s",
							args.Path, target, res.Errors[0].Text)
					}

					return api.OnResolveResult{Path: res.Path, External: res.External, Namespace: res.Namespace}, nil
				})
		},
	}
}

// loaderFor picks an esbuild loader from a file or URL path extension.
func loaderFor(p string) api.Loader {
	switch path.Ext(p) {
	case ".ts", ".mts":
		return api.LoaderTS
	case ".tsx":
		return api.LoaderTSX
	case ".jsx":
		return api.LoaderJSX
	case ".json":
		return api.LoaderJSON
	case ".css":
		return api.LoaderCSS
	default:
		return api.LoaderJS
	}
}
