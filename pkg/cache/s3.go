package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/JarvusInnovations/hologit-sub000/pkg/errs"
	"github.com/JarvusInnovations/hologit-sub000/pkg/object"
	"github.com/JarvusInnovations/hologit-sub000/pkg/remote"
)

// S3Options configures an S3 cache remote.
type S3Options struct {
	// Endpoint overrides the S3 endpoint and switches to path-style
	// addressing. HOLO_S3_ENDPOINT is used when empty.
	Endpoint string
	Region   string
}

// S3Remote keeps cache entries in a bucket:
//
//	<prefix>refs/holo/cache/<key>  output tree hash
//	<prefix>objects/<hash>         zstd("<type>\x00" + data)
type S3Remote struct {
	name   string
	bucket string
	prefix string
	client *s3.Client
}

// NewS3Remote returns a cache remote for rawURL, s3://bucket[/prefix].
// Credentials and region come from the default AWS chain.
func NewS3Remote(ctx context.Context, name, rawURL string, opts S3Options) (*S3Remote, error) {
	op := "cache remote " + name
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "s3" || u.Host == "" {
		return nil, errs.Config(op, "invalid s3 url %q", rawURL)
	}
	prefix := strings.Trim(u.Path, "/")
	if prefix != "" {
		prefix += "/"
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errs.Config(op, "load aws config: %v", err)
	}
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = os.Getenv("HOLO_S3_ENDPOINT")
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Remote{name: name, bucket: u.Host, prefix: prefix, client: client}, nil
}

func (r *S3Remote) Name() string { return r.name }

func (r *S3Remote) objectKey(h object.Hash) string { return r.prefix + "objects/" + string(h) }

func (r *S3Remote) refKey(key object.Hash) string { return r.prefix + Ref(key) }

func (r *S3Remote) Fetch(ctx context.Context, key object.Hash, store *object.Store) (object.Hash, bool, error) {
	data, ok, err := r.get(ctx, r.refKey(key))
	if err != nil || !ok {
		return "", false, err
	}
	out := object.Hash(strings.TrimSpace(string(data)))
	if err := object.ValidateHash(out); err != nil {
		return "", false, fmt.Errorf("s3 entry %s: %w", key.Short(), err)
	}

	stack := []object.Hash{out}
	seen := map[object.Hash]struct{}{}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return "", false, err
		}
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		if !store.Has(h) {
			if err := r.download(ctx, h, store); err != nil {
				return "", false, err
			}
		}
		objType, data, err := store.Read(h)
		if err != nil {
			return "", false, fmt.Errorf("read object %s: %w", h, err)
		}
		refs, err := object.ReferencedHashes(objType, data)
		if err != nil {
			return "", false, err
		}
		stack = append(stack, refs...)
	}
	return out, true, nil
}

func (r *S3Remote) download(ctx context.Context, h object.Hash, store *object.Store) error {
	body, ok, err := r.get(ctx, r.objectKey(h))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("object %s missing from s3://%s/%s", h, r.bucket, r.prefix)
	}
	raw, err := object.Decompress(body)
	if err != nil {
		return fmt.Errorf("decode object %s: %w", h, err)
	}
	i := bytes.IndexByte(raw, 0)
	if i < 0 {
		return fmt.Errorf("decode object %s: missing type", h)
	}
	objType, err := object.ParseObjectType(string(raw[:i]))
	if err != nil {
		return err
	}
	data := raw[i+1:]
	if got := object.HashObject(objType, data); got != h {
		return fmt.Errorf("object hash mismatch: expected %s, got %s", h, got)
	}
	if _, err := store.Write(objType, data); err != nil {
		return fmt.Errorf("write object %s: %w", h, err)
	}
	return nil
}

func (r *S3Remote) Push(ctx context.Context, key, tree object.Hash, store *object.Store) error {
	if tree != object.EmptyTreeHash {
		objects, err := remote.CollectObjectsForPush(store, []object.Hash{tree}, nil)
		if err != nil {
			return err
		}
		for _, obj := range objects {
			k := r.objectKey(obj.Hash)
			exists, err := r.exists(ctx, k)
			if err != nil {
				return err
			}
			if exists {
				continue
			}
			raw := make([]byte, 0, len(obj.Type)+1+len(obj.Data))
			raw = append(raw, string(obj.Type)...)
			raw = append(raw, 0)
			raw = append(raw, obj.Data...)
			payload, err := object.Compress(raw)
			if err != nil {
				return fmt.Errorf("encode object %s: %w", obj.Hash, err)
			}
			if err := r.put(ctx, k, payload, "application/zstd"); err != nil {
				return err
			}
		}
	}
	return r.put(ctx, r.refKey(key), []byte(string(tree)+"\n"), "text/plain")
}

func (r *S3Remote) get(ctx context.Context, key string) ([]byte, bool, error) {
	resp, err := r.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(r.bucket), Key: aws.String(key)})
	if isNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get s3://%s/%s: %w", r.bucket, key, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("read s3://%s/%s: %w", r.bucket, key, err)
	}
	return data, true, nil
}

func (r *S3Remote) exists(ctx context.Context, key string) (bool, error) {
	_, err := r.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(r.bucket), Key: aws.String(key)})
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("head s3://%s/%s: %w", r.bucket, key, err)
	}
	return true, nil
}

func (r *S3Remote) put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", r.bucket, key, err)
	}
	return nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
