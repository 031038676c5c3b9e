// Package datasource opens the pipeline input: a local file or a Cloud
// Storage object.
package datasource

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Options configures Open.
type Options struct {
	// CredentialsFile is a service account key for gs:// inputs. Empty means
	// Application Default Credentials.
	CredentialsFile string
}

// ObjectOpener opens bucket/object for reading.
type ObjectOpener func(ctx context.Context, bucket, object string) (io.ReadCloser, error)

// Opener resolves URIs to readers. The zero value uses Cloud Storage for
// gs:// and the local filesystem for everything else.
type Opener struct {
	Options Options

	// GCS overrides the Cloud Storage reader; tests set it.
	GCS ObjectOpener
}

// Open is a convenience for Opener{Options: opts}.Open.
func Open(ctx context.Context, uri string, opts Options) (io.ReadCloser, error) {
	return Opener{Options: opts}.Open(ctx, uri)
}

// Open returns a reader for uri. gs://bucket/object goes to Cloud Storage;
// file:///path and plain paths go to the local filesystem.
func (o Opener) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil, fmt.Errorf("datasource: empty uri")
	}

	if strings.HasPrefix(uri, "gs://") {
		bucket, object, err := ParseGCSURI(uri)
		if err != nil {
			return nil, err
		}
		open := o.GCS
		if open == nil {
			open = gcsOpener(o.Options)
		}
		rc, err := open(ctx, bucket, object)
		if err != nil {
			return nil, fmt.Errorf("datasource: open %s: %w", uri, err)
		}
		return rc, nil
	}

	path := strings.TrimPrefix(uri, "file://")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("datasource: %w", err)
	}
	return f, nil
}

// ParseGCSURI splits gs://bucket/path/to/object.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("datasource: %q is not a gs:// uri", uri)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" || strings.HasSuffix(object, "/") {
		return "", "", fmt.Errorf("datasource: %q: want gs://bucket/object", uri)
	}
	return bucket, object, nil
}

func gcsOpener(opts Options) ObjectOpener {
	return func(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
		var co []option.ClientOption
		if opts.CredentialsFile != "" {
			co = append(co, option.WithCredentialsFile(opts.CredentialsFile))
		}
		client, err := storage.NewClient(ctx, co...)
		if err != nil {
			return nil, err
		}
		r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return &gcsReader{Reader: r, client: client}, nil
	}
}

// gcsReader closes the client together with the object reader.
type gcsReader struct {
	*storage.Reader
	client *storage.Client
}

func (g *gcsReader) Close() error {
	err := g.Reader.Close()
	if cerr := g.client.Close(); err == nil {
		err = cerr
	}
	return err
}
