/*
Copyright 2025 The airia-test-pod Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package probes

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/Azure/azure-storage-blob-go/azblob"

	"github.com/davidpacold/airia-test-pod-sub000/pkg/config"
	"github.com/davidpacold/airia-test-pod-sub000/pkg/probe"
)

// blobPayload is the fixed 67-byte object used for the write/read
// round-trip.
var blobPayload = []byte("airia preflight blob storage round-trip payload 0123456789abcdef012")

// BlobStorage validates Azure Blob Storage access with a full
// upload/download/list/delete round-trip against the configured
// container.
type BlobStorage struct {
	cfg config.BlobStorage
}

func NewBlobStorage(cfg config.BlobStorage) *BlobStorage { return &BlobStorage{cfg: cfg} }

func (b *BlobStorage) ID() string            { return "blobstorage" }
func (b *BlobStorage) DisplayName() string   { return "Azure Blob Storage" }
func (b *BlobStorage) Configured() bool      { return b.cfg.Configured() }
func (b *BlobStorage) MissingKeys() []string { return b.cfg.MissingKeys() }

func (b *BlobStorage) Execute(ctx context.Context) probe.Result {
	r := probe.NewRecorder(b)
	if !b.Configured() {
		return probe.Skipped(b, b.MissingKeys())
	}

	credential, err := azblob.NewSharedKeyCredential(b.cfg.AccountName, b.cfg.AccountKey)
	if err != nil {
		r.Fail("client_creation", fmt.Sprintf("invalid storage credentials: %v", err),
			"AZURE_STORAGE_ACCOUNT_KEY is not a valid shared key for this account; re-copy it from the portal", "AZBLOB_CREDENTIAL")
		return r.Complete()
	}
	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})
	containerRawURL := fmt.Sprintf("https://%s.blob.core.windows.net/%s", b.cfg.AccountName, b.cfg.Container)
	containerParsedURL, err := url.Parse(containerRawURL)
	if err != nil {
		r.Fail("client_creation", fmt.Sprintf("building container URL: %v", err),
			"AZURE_STORAGE_ACCOUNT_NAME or AZURE_STORAGE_CONTAINER contains characters that do not form a valid URL", "AZBLOB_URL")
		return r.Complete()
	}
	container := azblob.NewContainerURL(*containerParsedURL, pipeline)
	r.Pass("client_creation", "client created", map[string]any{"container_url": containerRawURL})

	if _, err := container.GetProperties(ctx, azblob.LeaseAccessConditions{}); err != nil {
		r.Fail("container_access", fmt.Sprintf("cannot access container %q: %v", b.cfg.Container, err),
			"the container does not exist or the key lacks access; create the container or check the account key", "AZBLOB_CONTAINER")
		return r.Complete()
	}
	r.Pass("container_access", "container reachable", nil)

	blobName := fmt.Sprintf("preflight-%d.bin", time.Now().UnixNano())
	blob := container.NewBlockBlobURL(blobName)

	if _, err := azblob.UploadBufferToBlockBlob(ctx, blobPayload, blob, azblob.UploadToBlockBlobOptions{}); err != nil {
		r.Fail("upload", fmt.Sprintf("upload of %d-byte test blob failed: %v", len(blobPayload), err),
			"reads work but writes fail; the key may be read-only or the container may have an immutability policy", "AZBLOB_UPLOAD")
		return r.Complete()
	}
	r.Pass("upload", fmt.Sprintf("uploaded %d bytes", len(blobPayload)), map[string]any{"blob": blobName})

	download, err := blob.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		r.Fail("download", fmt.Sprintf("download of test blob failed: %v", err),
			"the blob was written but cannot be read back; check for a firewall rule interrupting GET requests", "AZBLOB_DOWNLOAD")
	} else {
		body := download.Body(azblob.RetryReaderOptions{MaxRetryRequests: 2})
		data, readErr := io.ReadAll(body)
		body.Close()
		switch {
		case readErr != nil:
			r.Fail("download", fmt.Sprintf("reading downloaded blob: %v", readErr),
				"the download began but the stream broke; check for a proxy or firewall interrupting long reads", "AZBLOB_DOWNLOAD")
		case !bytes.Equal(data, blobPayload):
			r.Fail("download", fmt.Sprintf("round-trip mismatch: wrote %d bytes, read %d", len(blobPayload), len(data)),
				"data corruption between upload and download; verify no middlebox rewrites blob traffic", "AZBLOB_VERIFY")
		default:
			r.Pass("download", "downloaded and verified", map[string]any{"bytes": len(data)})
		}
	}

	if _, err := container.ListBlobsFlatSegment(ctx, azblob.Marker{}, azblob.ListBlobsSegmentOptions{MaxResults: 10}); err != nil {
		r.Fail("list", fmt.Sprintf("listing blobs failed: %v", err),
			"object-level operations work but listing fails; the key may lack the List permission", "AZBLOB_LIST")
	} else {
		r.Pass("list", "listed container contents", nil)
	}

	if _, err := blob.Delete(ctx, azblob.DeleteSnapshotsOptionNone, azblob.BlobAccessConditions{}); err != nil {
		r.Fail("cleanup", fmt.Sprintf("deleting test blob %q failed: %v", blobName, err),
			fmt.Sprintf("delete blob %q manually; the key may lack the Delete permission", blobName), "AZBLOB_DELETE")
	} else {
		r.Pass("cleanup", "test blob removed", nil)
	}
	return r.Complete()
}
