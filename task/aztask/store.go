// Package aztask persists task records in Azure Blob Storage and dispatches
// task ids through Azure Queue Storage. Records outlive the process; the
// executor's in-memory map stays authoritative while the process runs.
package aztask

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/wingie/webagent/internal/aids"
	"github.com/wingie/webagent/task"
)

// maxTaskRecordSizeInBytes bounds a downloaded task record; extracted results
// and screenshot lists stay far under this.
const maxTaskRecordSizeInBytes = 4 * 1024 * 1024 // 4MB

// blobStore is a [task.Store] backed by one blob per task in a single
// container. The container is created lazily on first save.
type blobStore struct {
	client      *azblob.Client
	container   string
	errorLogger *slog.Logger
}

// NewStore creates a blob-backed [task.Store] writing into containerName.
func NewStore(client *azblob.Client, containerName string, errorLogger *slog.Logger) task.Store {
	return &blobStore{client: client, container: containerName, errorLogger: errorLogger}
}

func (s *blobStore) Save(ctx context.Context, e *task.Execution) error {
	buffer, err := json.Marshal(e)
	if aids.IsError(err) {
		return err
	}
	for {
		// Attempt to upload the task record blob
		_, err := s.client.UploadBuffer(ctx, s.container, e.TaskID, buffer, nil)
		if !aids.IsError(err) {
			return nil
		}

		// An error occurred; if not related to a missing container, return it
		if !bloberror.HasCode(err, bloberror.ContainerNotFound) {
			return err
		}
		if _, err := s.client.CreateContainer(ctx, s.container, nil); aids.IsError(err) {
			return err // Failed to create the container, return
		}
		// Successfully created the container, retry uploading the record
	}
}

func (s *blobStore) FindByID(ctx context.Context, taskID string) (*task.Execution, error) {
	return s.download(ctx, taskID, nil)
}

// download reads and decodes one task record. A non-nil etag makes the read
// conditional (If-Match), so a blob rewritten since it was listed comes back
// as a ConditionNotMet error instead of torn data.
func (s *blobStore) download(ctx context.Context, blobName string, etag *azcore.ETag) (*task.Execution, error) {
	var options *azblob.DownloadStreamOptions
	if etag != nil {
		options = &azblob.DownloadStreamOptions{
			AccessConditions: &azblob.AccessConditions{
				ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfMatch: etag},
			},
		}
	}
	response, err := s.client.DownloadStream(ctx, s.container, blobName, options)
	if aids.IsError(err) {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, task.ErrNotFound
		}
		return nil, err
	}

	// Read the blob contents into a buffer and deserialize it into an Execution
	defer response.Body.Close()
	buffer, err := io.ReadAll(io.LimitReader(response.Body, maxTaskRecordSizeInBytes))
	if aids.IsError(err) {
		return nil, err
	}
	e := &task.Execution{}
	if err := json.Unmarshal(buffer, e); aids.IsError(err) {
		return nil, err
	}
	return e, nil
}

func (s *blobStore) FindTimedOutTasks(ctx context.Context, threshold time.Time) ([]*task.Execution, error) {
	return s.scan(ctx, func(e *task.Execution) bool {
		return e.Status == task.StatusRunning && e.StartedAt != nil && e.StartedAt.Before(threshold)
	})
}

func (s *blobStore) FindForCleanup(ctx context.Context, cutoff time.Time) ([]*task.Execution, error) {
	return s.scan(ctx, func(e *task.Execution) bool {
		return e.Status.Terminal() && e.CompletedAt != nil && e.CompletedAt.Before(cutoff)
	})
}

func (s *blobStore) CountByStatus(ctx context.Context) (map[task.Status]int, error) {
	counts := map[task.Status]int{}
	_, err := s.scan(ctx, func(e *task.Execution) bool {
		counts[e.Status]++
		return false
	})
	if aids.IsError(err) {
		return nil, err
	}
	return counts, nil
}

// scan walks every blob in the container and returns the records keep
// selects. Each download is pinned to the listed generation with If-Match;
// records deleted or rewritten mid-scan are skipped (the next sweep sees
// their new state). A missing container means nothing was ever saved.
func (s *blobStore) scan(ctx context.Context, keep func(e *task.Execution) bool) ([]*task.Execution, error) {
	var selected []*task.Execution
	pager := s.client.NewListBlobsFlatPager(s.container, nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if aids.IsError(err) {
			if bloberror.HasCode(err, bloberror.ContainerNotFound) {
				return nil, nil
			}
			return nil, err
		}
		for _, item := range page.Segment.BlobItems {
			var etag *azcore.ETag
			if item.Properties != nil {
				etag = item.Properties.ETag
			}
			e, err := s.download(ctx, *item.Name, etag)
			switch {
			case !aids.IsError(err):
			case errors.Is(err, task.ErrNotFound) || bloberror.HasCode(err, bloberror.ConditionNotMet):
				continue // changed under the scan
			default:
				// A corrupted record shouldn't kill the sweep
				s.errorLogger.LogAttrs(ctx, slog.LevelWarn, "Task record scan skip",
					slog.String("blob", *item.Name), slog.String("error", err.Error()))
				continue
			}
			if keep(e) {
				selected = append(selected, e)
			}
		}
	}
	return selected, nil
}
