package provider

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ObjectSummary is one listed remote object.
type ObjectSummary struct {
	Key          string
	Size         int64
	LastModified string // RFC3339
}

// Page is one page of a list_objects call.
type Page struct {
	Objects        []ObjectSummary
	CommonPrefixes []string
	NextToken      string
	IsTruncated    bool
}

// ListObjects lists one page under prefix, delimited by delimiter, resuming
// from token (spec.md §4.1).
func (c *Client) ListObjects(ctx context.Context, prefix, delimiter, token string, maxKeys int32) (*Page, error) {
	in := &s3.ListObjectsV2Input{
		Bucket:  aws.String(c.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(maxKeys),
	}
	if delimiter != "" {
		in.Delimiter = aws.String(delimiter)
	}
	if token != "" {
		in.ContinuationToken = aws.String(token)
	}

	out, err := c.raw.ListObjectsV2(ctx, in)
	if err != nil {
		return nil, wrapProviderErr(err, "list", prefix)
	}

	page := &Page{IsTruncated: aws.ToBool(out.IsTruncated)}
	if out.NextContinuationToken != nil {
		page.NextToken = *out.NextContinuationToken
	}
	for _, obj := range out.Contents {
		key := aws.ToString(obj.Key)
		if strings.HasSuffix(key, "/") {
			continue // directory marker
		}
		page.Objects = append(page.Objects, ObjectSummary{
			Key:          key,
			Size:         aws.ToInt64(obj.Size),
			LastModified: formatTime(obj.LastModified),
		})
	}
	for _, cp := range out.CommonPrefixes {
		page.CommonPrefixes = append(page.CommonPrefixes, aws.ToString(cp.Prefix))
	}
	return page, nil
}

// ListAllProgressFunc reports a running object count during a full traversal.
type ListAllProgressFunc func(count int)

// ListAll performs a paginated traversal of the entire bucket (no
// delimiter), filtering directory markers and reporting a running count
// (spec.md §4.1). Every page is collected into the returned slice before
// ListAll returns.
func (c *Client) ListAll(ctx context.Context, progress ListAllProgressFunc) ([]ObjectSummary, error) {
	var all []ObjectSummary
	token := ""
	for {
		page, err := c.ListObjects(ctx, "", "", token, 1000)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Objects...)
		if progress != nil {
			progress(len(all))
		}
		if !page.IsTruncated || page.NextToken == "" {
			break
		}
		token = page.NextToken
	}
	return all, nil
}

// FolderLoadProgressFunc reports (pages, items_so_far) during a folder
// listing traversal.
type FolderLoadProgressFunc func(pages, items int)

// ListFolder paginates prefix with delimiter "/", deduplicating
// common-prefixes across pages (spec.md §4.1).
func (c *Client) ListFolder(ctx context.Context, prefix string, progress FolderLoadProgressFunc) (*Page, error) {
	result := &Page{}
	seenPrefixes := make(map[string]struct{})
	token := ""
	pages := 0
	for {
		page, err := c.ListObjects(ctx, prefix, "/", token, 1000)
		if err != nil {
			return nil, err
		}
		pages++
		result.Objects = append(result.Objects, page.Objects...)
		for _, cp := range page.CommonPrefixes {
			if _, ok := seenPrefixes[cp]; !ok {
				seenPrefixes[cp] = struct{}{}
				result.CommonPrefixes = append(result.CommonPrefixes, cp)
			}
		}
		if progress != nil {
			progress(pages, len(result.Objects))
		}
		if !page.IsTruncated || page.NextToken == "" {
			break
		}
		token = page.NextToken
	}
	sort.Strings(result.CommonPrefixes)
	return result, nil
}

// HeadOrSize returns the size of key, failing with a retryable-false
// Provider error when the key is absent.
func (c *Client) HeadOrSize(ctx context.Context, key string) (int64, error) {
	out, err := c.raw.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, wrapProviderErr(err, "head", key)
	}
	return aws.ToInt64(out.ContentLength), nil
}

// GetStream opens key for reading, optionally restricted to a byte range
// (e.g. "bytes=1048576-") to resume a partial download.
func (c *Client) GetStream(ctx context.Context, key, rangeHeader string) (io.ReadCloser, int64, error) {
	in := &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}
	if rangeHeader != "" {
		in.Range = aws.String(rangeHeader)
	}
	out, err := c.raw.GetObject(ctx, in)
	if err != nil {
		return nil, 0, wrapProviderErr(err, "get", key)
	}
	return out.Body, aws.ToInt64(out.ContentLength), nil
}

// Put uploads body as key in a single request, for files under the
// multipart threshold (spec.md §4.5).
func (c *Client) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	in := &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	_, err := c.raw.PutObject(ctx, in)
	return wrapProviderErr(err, "put", key)
}

// MultipartInitiate starts a multipart upload and returns its upload id.
func (c *Client) MultipartInitiate(ctx context.Context, key, contentType string) (string, error) {
	in := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	out, err := c.raw.CreateMultipartUpload(ctx, in)
	if err != nil {
		return "", wrapProviderErr(err, "multipart-initiate", key)
	}
	return aws.ToString(out.UploadId), nil
}

// MultipartUploadPart uploads one part of size partSize and returns its ETag.
func (c *Client) MultipartUploadPart(ctx context.Context, key, uploadID string, partNumber int32, body io.ReadSeeker, partSize int64) (string, error) {
	out, err := c.raw.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int32(partNumber),
		Body:          body,
		ContentLength: aws.Int64(partSize),
	})
	if err != nil {
		return "", wrapProviderErr(err, "multipart-upload-part", key)
	}
	return aws.ToString(out.ETag), nil
}

// Part is one completed multipart part, identity (number, etag).
type Part struct {
	Number int32
	ETag   string
}

// MultipartComplete finishes a multipart upload. parts must already be
// sorted ascending by number (spec.md §4.5/§4.7, property P6).
func (c *Client) MultipartComplete(ctx context.Context, key, uploadID string, parts []Part) error {
	completed := make([]types.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = types.CompletedPart{ETag: aws.String(p.ETag), PartNumber: aws.Int32(p.Number)}
	}
	_, err := c.raw.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(c.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	return wrapProviderErr(err, "multipart-complete", key)
}

// MultipartAbort aborts a multipart upload, used only on explicit
// cancel-and-discard (spec.md §4.5: not on ordinary part failure).
func (c *Client) MultipartAbort(ctx context.Context, key, uploadID string) error {
	_, err := c.raw.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(c.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	return wrapProviderErr(err, "multipart-abort", key)
}

// Copy performs a server-side copy within this provider instance. Callers
// must not assume cross-provider support (spec.md §4.1).
func (c *Client) Copy(ctx context.Context, srcBucket, srcKey, dstKey string) error {
	source := fmt.Sprintf("%s/%s", srcBucket, srcKey)
	_, err := c.raw.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(c.bucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(source),
	})
	return wrapProviderErr(err, "copy", srcKey)
}

// Delete removes one object.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.raw.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	return wrapProviderErr(err, "delete", key)
}

// DeleteBatch removes up to 1000 keys in one request; an empty input is a
// no-op returning success (spec.md §4.1).
func (c *Client) DeleteBatch(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	objects := make([]types.ObjectIdentifier, len(keys))
	for i, k := range keys {
		objects[i] = types.ObjectIdentifier{Key: aws.String(k)}
	}
	_, err := c.raw.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(c.bucket),
		Delete: &types.Delete{Objects: objects},
	})
	sample := keys
	if len(sample) > 3 {
		sample = sample[:3]
	}
	return wrapProviderErr(err, "delete-batch", strings.Join(sample, ","))
}

// PresignGet returns a GET URL valid for ttlSeconds.
func (c *Client) PresignGet(ctx context.Context, key string, ttlSeconds int64) (string, error) {
	out, err := c.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(presignExpires(ttlSeconds)))
	if err != nil {
		return "", wrapProviderErr(err, "presign-get", key)
	}
	return out.URL, nil
}

// PresignPut returns a PUT URL valid for ttlSeconds.
func (c *Client) PresignPut(ctx context.Context, key string, ttlSeconds int64) (string, error) {
	out, err := c.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(presignExpires(ttlSeconds)))
	if err != nil {
		return "", wrapProviderErr(err, "presign-put", key)
	}
	return out.URL, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

