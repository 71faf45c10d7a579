package storage

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// GatewayFactory builds a gateway from a full DSN.
type GatewayFactory func(dsn string) (Gateway, error)

var gatewayFactoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]GatewayFactory
}{
	factories: map[string]GatewayFactory{},
}

// RegisterGatewayFactory makes a custom backend available to
// BuildGatewayFromDSN under the given URL scheme. Registered factories take
// precedence over the built-in schemes.
func RegisterGatewayFactory(scheme string, factory GatewayFactory) {
	scheme = normalizeScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	gatewayFactoryRegistry.mu.Lock()
	defer gatewayFactoryRegistry.mu.Unlock()
	gatewayFactoryRegistry.factories[scheme] = factory
}

func lookupGatewayFactory(scheme string) (GatewayFactory, bool) {
	scheme = normalizeScheme(scheme)
	gatewayFactoryRegistry.mu.RLock()
	defer gatewayFactoryRegistry.mu.RUnlock()
	factory, ok := gatewayFactoryRegistry.factories[scheme]
	return factory, ok
}

// BuildGatewayFromDSN selects a backend from the DSN's scheme:
//
//	memory://                          in-process map
//	file:///var/lib/boardsync         filesystem root (also a bare path)
//	postgres://user:pw@host/db         single-table postgres store
//	s3://KEY:SECRET@endpoint/bucket    minio/S3 bucket (?ssl=true)
func BuildGatewayFromDSN(dsn string, logger Logger) (Gateway, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("gateway dsn is required")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := normalizeScheme(parsed.Scheme)
	if factory, ok := lookupGatewayFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "", "file":
		root, err := dsnPath(parsed, dsn)
		if err != nil {
			return nil, err
		}
		return NewFilesystemGateway(root, logger)
	case "memory", "mem", "inmem":
		return NewMemoryGateway(), nil
	case "postgres", "postgresql":
		return NewPostgresGateway(dsn)
	case "s3", "minio":
		return buildS3FromDSN(parsed)
	default:
		return nil, fmt.Errorf("unsupported gateway scheme: %s", scheme)
	}
}

func buildS3FromDSN(parsed *url.URL) (Gateway, error) {
	opts := S3GatewayOptions{
		Endpoint: parsed.Host,
		Bucket:   strings.Trim(parsed.Path, "/"),
	}
	if parsed.User != nil {
		opts.AccessKey = parsed.User.Username()
		opts.SecretKey, _ = parsed.User.Password()
	}
	opts.UseSSL = strings.EqualFold(parsed.Query().Get("ssl"), "true")
	return NewS3Gateway(opts)
}

func dsnPath(parsed *url.URL, dsn string) (string, error) {
	if parsed.Scheme == "" {
		return dsn, nil
	}
	path := parsed.Path
	if parsed.Host != "" {
		// file://relative/path puts the first segment in Host.
		path = parsed.Host + path
	}
	if path == "" {
		return "", fmt.Errorf("gateway dsn %q has no path", dsn)
	}
	return path, nil
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}
