package bundler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/evanw/esbuild/pkg/api"
)

const remoteNamespace = "usbundle-remote"

// maxRemoteModuleSize caps a single fetched module.
const maxRemoteModuleSize = 16 << 20

func isHTTP(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// remoteLoader fetches http(s) modules and keeps them for later builds.
type remoteLoader struct {
	client *http.Client

	mu    sync.Mutex
	cache map[string]string
}

func newRemoteLoader(client *http.Client) *remoteLoader {
	return &remoteLoader{client: client, cache: make(map[string]string)}
}

func (r *remoteLoader) plugin(ctx context.Context, logger *slog.Logger) api.Plugin {
	return api.Plugin{
		Name: "usbundle-remote",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: "^https?://"},
				func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					return api.OnResolveResult{Path: args.Path, Namespace: remoteNamespace}, nil
				})

			// Relative and root-relative imports inside a fetched module
			// resolve against that module's URL.
			build.OnResolve(api.OnResolveOptions{Filter: ".*", Namespace: remoteNamespace},
				func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					base, err := url.Parse(args.Importer)
					if err != nil {
						return api.OnResolveResult{}, fmt.Errorf("parsing importer URL %q: %w", args.Importer, err)
					}

					ref, err := url.Parse(args.Path)
					if err != nil {
						return api.OnResolveResult{}, fmt.Errorf("parsing import %q: %w", args.Path, err)
					}

					return api.OnResolveResult{Path: base.ResolveReference(ref).String(), Namespace: remoteNamespace}, nil
				})

			build.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: remoteNamespace},
				func(args api.OnLoadArgs) (api.OnLoadResult, error) {
					contents, err := r.fetch(ctx, logger, args.Path)
					if err != nil {
						return api.OnLoadResult{}, err
					}

					u, _ := url.Parse(args.Path)

					return api.OnLoadResult{Contents: &contents, Loader: loaderFor(u.Path)}, nil
				})
		},
	}
}

func (r *remoteLoader) fetch(ctx context.Context, logger *slog.Logger, rawURL string) (string, error) {
	r.mu.Lock()
	cached, ok := r.cache[rawURL]
	r.mu.Unlock()

	if ok {
		return cached, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", rawURL, err)
	}

	logger.Debug("fetching remote module", slog.String("url", rawURL))

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching %s: unexpected status %s", rawURL, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteModuleSize+1))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", rawURL, err)
	}

	if len(data) > maxRemoteModuleSize {
		return "", fmt.Errorf("fetching %s: module exceeds %d bytes", rawURL, maxRemoteModuleSize)
	}

	contents := string(data)

	r.mu.Lock()
	r.cache[rawURL] = contents
	r.mu.Unlock()

	return contents, nil
}
