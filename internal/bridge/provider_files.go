package bridge

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

func (s *Service) withProvider(ctx context.Context, uri string, fn func(ContentProvider) error) error {
	parsed, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("invalid content uri %q: %w", uri, err)
	}
	if parsed.Scheme != "content" || parsed.Host == "" {
		return fmt.Errorf("invalid content uri %q", uri)
	}
	provider, err := s.platform.AcquireProvider(ctx, parsed.Host)
	if err != nil {
		return fmt.Errorf("acquire provider %s: %w", parsed.Host, err)
	}
	defer provider.Release()
	return fn(provider)
}

// ProxyContentProviderGetType returns the mime type a provider reports for uri
func (s *Service) ProxyContentProviderGetType(ctx context.Context, uri string) (string, error) {
	var mime string
	err := s.withProvider(ctx, uri, func(p ContentProvider) error {
		var err error
		mime, err = p.GetType(ctx, uri)
		return err
	})
	return mime, err
}

// ProxyContentProviderOpenFile reads uri through the provider
func (s *Service) ProxyContentProviderOpenFile(ctx context.Context, uri, mode string) ([]byte, error) {
	if mode == "" {
		mode = "r"
	}
	var data []byte
	err := s.withProvider(ctx, uri, func(p ContentProvider) error {
		var err error
		data, err = p.OpenFile(ctx, uri, mode)
		return err
	})
	return data, err
}

// ProxyContentProviderGetStreamTypes returns the types the provider declares for
// uri that match filter. Content is only sniffed when the provider declares none.
func (s *Service) ProxyContentProviderGetStreamTypes(ctx context.Context, uri, filter string) ([]string, error) {
	var mimes []string
	err := s.withProvider(ctx, uri, func(p ContentProvider) error {
		var err error
		mimes, err = p.GetStreamTypes(ctx, uri, filter)
		if err != nil || len(mimes) > 0 {
			return err
		}
		data, err := p.OpenFile(ctx, uri, "r")
		if err != nil {
			return err
		}
		mimes = streamTypes(data, filter)
		return nil
	})
	return mimes, err
}

func streamTypes(data []byte, filter string) []string {
	var out []string
	for m := mimetype.Detect(data); m != nil; m = m.Parent() {
		mime, _, _ := strings.Cut(m.String(), ";")
		if mimeMatches(filter, mime) {
			out = append(out, mime)
		}
	}
	return out
}

func mimeMatches(filter, mime string) bool {
	if filter == "" || filter == "*/*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(filter, "/*"); ok {
		return strings.HasPrefix(mime, prefix+"/")
	}
	return filter == mime
}
