package executor_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	coreAdapter "github.com/tigerroll/twinstore/pkg/twin/core/adapter"
	storage "github.com/tigerroll/twinstore/pkg/twin/adapter/storage"
	config "github.com/tigerroll/twinstore/pkg/twin/core/config"
	metrics "github.com/tigerroll/twinstore/pkg/twin/core/metrics"
	model "github.com/tigerroll/twinstore/pkg/twin/core/model"
	"github.com/tigerroll/twinstore/pkg/twin/engine/executor"
	"github.com/tigerroll/twinstore/pkg/twin/engine/job"
	"github.com/tigerroll/twinstore/pkg/twin/engine/lock"
	graphinmemory "github.com/tigerroll/twinstore/pkg/twin/graph/inmemory"
	inmemory "github.com/tigerroll/twinstore/pkg/twin/infrastructure/repository/inmemory"
	"github.com/tigerroll/twinstore/pkg/twin/support/util/exception"
)

// fakeStorage is a map-backed StorageConnection that resolves to itself.
type fakeStorage struct {
	objects map[string][]byte
	mu      sync.Mutex
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string][]byte)}
}

func (f *fakeStorage) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	content, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[objectName] = content
	return nil
}

func (f *fakeStorage) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.objects[objectName]
	if !ok {
		return nil, fmt.Errorf("object '%s' not found", objectName)
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (f *fakeStorage) ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for name := range f.objects {
		if strings.HasPrefix(name, prefix) {
			if err := fn(name); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f *fakeStorage) DeleteObject(ctx context.Context, bucket, objectName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, objectName)
	return nil
}

func (f *fakeStorage) Close() error { return nil }
func (f *fakeStorage) Type() string { return "fake" }
func (f *fakeStorage) Name() string { return "bulk" }

func (f *fakeStorage) ResolveConnection(ctx context.Context, name string) (coreAdapter.ResourceConnection, error) {
	return f, nil
}

func (f *fakeStorage) ResolveStorageConnection(ctx context.Context, name string) (storage.StorageConnection, error) {
	return f, nil
}

var _ storage.StorageConnectionResolver = (*fakeStorage)(nil)

// harness assembles the executors over in-memory backends.
type harness struct {
	repo     *inmemory.InMemoryJobRepository
	lockRepo *inmemory.InMemoryLockRepository
	jobs     *job.Service
	locks    *lock.Manager
	graph    *graphinmemory.InMemoryGraphStore
	storage  *fakeStorage
	cfg      *config.JobsConfig
}

func newHarness() *harness {
	cfg := &config.JobsConfig{
		BatchSize:               10,
		CheckpointInterval:      2,
		LeaseSeconds:            30,
		PurgeAfterHours:         1,
		ContinueOnFailure:       true,
		SupportedImportVersions: []string{"1"},
	}
	repo := inmemory.NewInMemoryJobRepository()
	lockRepo := inmemory.NewInMemoryLockRepository()
	recorder := metrics.NewNoopRecorder()
	return &harness{
		repo:     repo,
		lockRepo: lockRepo,
		jobs:     job.NewService(repo, cfg, recorder),
		locks:    lock.NewManager(lockRepo, cfg, recorder),
		graph:    graphinmemory.NewInMemoryGraphStore(),
		storage:  newFakeStorage(),
		cfg:      cfg,
	}
}

func (h *harness) importExecutor() *executor.ImportExecutor {
	return executor.NewImportExecutor(h.jobs, h.repo, h.locks, h.graph, h.storage,
		metrics.NewNoopRecorder(), metrics.NewNoopTracer(), h.cfg)
}

func (h *harness) deleteExecutor() *executor.DeleteExecutor {
	return executor.NewDeleteExecutor(h.jobs, h.repo, h.locks, h.graph,
		metrics.NewNoopRecorder(), metrics.NewNoopTracer(), h.cfg)
}

func (h *harness) exportExecutor() *executor.ExportExecutor {
	return executor.NewExportExecutor(h.jobs, h.repo, h.locks, h.graph, h.storage,
		metrics.NewNoopRecorder(), metrics.NewNoopTracer(), h.cfg)
}

const validImportDoc = `{"Section": "Header"}
{"fileVersion": "1.0.0", "author": "twinstore"}
{"Section": "Models"}
{"@id": "dtmi:example:Room;1", "displayName": "Room"}
{"@id": "dtmi:example:Floor;1", "displayName": "Floor"}
{"Section": "Twins"}
{"$dtId": "room1", "$metadata": {"$model": "dtmi:example:Room;1"}, "temperature": 21.5}
{"$dtId": "floor1", "$metadata": {"$model": "dtmi:example:Floor;1"}}
{"Section": "Relationships"}
{"$relationshipId": "rel1", "$relationshipName": "contains", "$sourceId": "floor1", "$targetId": "room1"}
`

func importRequest(inputPath string) model.RequestData {
	return model.RequestData{
		executor.KeyStorageRef: "bulk",
		executor.KeyInputPath:  inputPath,
	}
}

func TestParseImportDocument(t *testing.T) {
	doc, err := executor.ParseImportDocument(strings.NewReader(validImportDoc), []string{"1"})
	assert.NoError(t, err)
	assert.Len(t, doc.Models, 2)
	assert.Len(t, doc.Twins, 2)
	assert.Len(t, doc.Relationships, 1)
	assert.Equal(t, "1.0.0", doc.Header["fileVersion"])
}

func TestParseImportDocument_MissingHeader(t *testing.T) {
	input := `{"Section": "Models"}
{"@id": "dtmi:example:Room;1"}
`
	_, err := executor.ParseImportDocument(strings.NewReader(input), []string{"1"})
	assert.Error(t, err)
	assert.Equal(t, exception.CategoryValidation, exception.CategoryOf(err))
}

func TestParseImportDocument_UnsupportedVersion(t *testing.T) {
	input := `{"Section": "Header"}
{"fileVersion": "2.0.0"}
`
	_, err := executor.ParseImportDocument(strings.NewReader(input), []string{"1"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not supported")
}

func TestParseImportDocument_OutOfOrderSections(t *testing.T) {
	input := `{"Section": "Header"}
{"fileVersion": "1.0.0"}
{"Section": "Twins"}
{"$dtId": "t1", "$metadata": {"$model": "m1"}}
{"Section": "Models"}
{"@id": "m1"}
`
	_, err := executor.ParseImportDocument(strings.NewReader(input), []string{"1"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "out of order")
}

func TestParseImportDocument_DataBeforeMarker(t *testing.T) {
	input := `{"fileVersion": "1.0.0"}
`
	_, err := executor.ParseImportDocument(strings.NewReader(input), []string{"1"})
	assert.Error(t, err)
	assert.Equal(t, exception.CategoryValidation, exception.CategoryOf(err))
}

func TestWriteExportDocument_RoundTrips(t *testing.T) {
	doc, err := executor.ParseImportDocument(strings.NewReader(validImportDoc), []string{"1"})
	assert.NoError(t, err)

	var out bytes.Buffer
	assert.NoError(t, executor.WriteExportDocument(&out, doc))

	reparsed, err := executor.ParseImportDocument(&out, []string{"1"})
	assert.NoError(t, err)
	assert.Equal(t, doc.Models, reparsed.Models)
	assert.Equal(t, doc.Twins, reparsed.Twins)
	assert.Equal(t, doc.Relationships, reparsed.Relationships)
}

func TestImport_Succeeds(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.storage.objects["import.ndjson"] = []byte(validImportDoc)

	_, err := h.jobs.Create(ctx, "imp-1", model.JobTypeImport, importRequest("import.ndjson"))
	assert.NoError(t, err)

	assert.NoError(t, h.importExecutor().Run(ctx, "imp-1"))

	record, err := h.jobs.Get(ctx, "imp-1")
	assert.NoError(t, err)
	assert.Equal(t, model.JobStatusSucceeded, record.Status)
	assert.Equal(t, 2, record.ModelsCreated)
	assert.Equal(t, 2, record.TwinsCreated)
	assert.Equal(t, 1, record.RelationshipsCreated)
	assert.Equal(t, 0, record.ErrorCount)
	assert.NotNil(t, record.FinishedAt)

	twins, err := h.graph.ListTwins(ctx, 0, 0)
	assert.NoError(t, err)
	assert.Len(t, twins, 2)

	// The lock is released at the end of the run.
	info, err := h.locks.GetLockInfo(ctx, "imp-1")
	assert.NoError(t, err)
	assert.Nil(t, info)
}

func TestImport_BadItemsArePartialSuccess(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.storage.objects["import.ndjson"] = []byte(`{"Section": "Header"}
{"fileVersion": "1.0.0"}
{"Section": "Models"}
{"@id": "dtmi:example:Room;1"}
{"Section": "Twins"}
{"$dtId": "room1", "$metadata": {"$model": "dtmi:example:Room;1"}}
{"$dtId": "orphan", "$metadata": {"$model": "dtmi:example:Missing;1"}}
`)

	_, err := h.jobs.Create(ctx, "imp-1", model.JobTypeImport, importRequest("import.ndjson"))
	assert.NoError(t, err)

	assert.NoError(t, h.importExecutor().Run(ctx, "imp-1"))

	record, err := h.jobs.Get(ctx, "imp-1")
	assert.NoError(t, err)
	assert.Equal(t, model.JobStatusPartiallySucceeded, record.Status)
	assert.Equal(t, 1, record.ModelsCreated)
	assert.Equal(t, 1, record.TwinsCreated)
	assert.Equal(t, 1, record.ErrorCount)
	assert.Contains(t, record.Error.Message, "nonexistent model")
}

func TestImport_BadItemAbortsWhenFailureNotTolerated(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.storage.objects["import.ndjson"] = []byte(`{"Section": "Header"}
{"fileVersion": "1.0.0"}
{"Section": "Twins"}
{"$dtId": "orphan", "$metadata": {"$model": "dtmi:example:Missing;1"}}
`)

	request := importRequest("import.ndjson")
	request[executor.KeyContinueOnFailure] = false
	_, err := h.jobs.Create(ctx, "imp-1", model.JobTypeImport, request)
	assert.NoError(t, err)

	err = h.importExecutor().Run(ctx, "imp-1")
	assert.Error(t, err)

	record, _ := h.jobs.Get(ctx, "imp-1")
	assert.Equal(t, model.JobStatusFailed, record.Status)
	assert.NotEmpty(t, record.Error.Message)
}

func TestImport_MissingInputFails(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	_, err := h.jobs.Create(ctx, "imp-1", model.JobTypeImport, importRequest("nope.ndjson"))
	assert.NoError(t, err)

	err = h.importExecutor().Run(ctx, "imp-1")
	assert.Error(t, err)

	record, _ := h.jobs.Get(ctx, "imp-1")
	assert.Equal(t, model.JobStatusFailed, record.Status)
}

func TestImport_LockedJobIsSilentNoOp(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.storage.objects["import.ndjson"] = []byte(validImportDoc)

	_, err := h.jobs.Create(ctx, "imp-1", model.JobTypeImport, importRequest("import.ndjson"))
	assert.NoError(t, err)

	// A second instance sharing the same lock table already owns the job.
	other := lock.NewManager(h.lockRepo, h.cfg, metrics.NewNoopRecorder())
	acquired, err := other.TryAcquire(ctx, "imp-1", 0)
	assert.NoError(t, err)
	assert.True(t, acquired)

	assert.NoError(t, h.importExecutor().Run(ctx, "imp-1"))

	record, _ := h.jobs.Get(ctx, "imp-1")
	assert.Equal(t, model.JobStatusNotStarted, record.Status)
}

func TestImport_TerminalJobIsConflict(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	record, err := h.jobs.Create(ctx, "imp-1", model.JobTypeImport, importRequest("import.ndjson"))
	assert.NoError(t, err)
	assert.NoError(t, h.jobs.Transition(ctx, record, model.JobStatusRunning))
	assert.NoError(t, h.jobs.Transition(ctx, record, model.JobStatusSucceeded))

	err = h.importExecutor().Run(ctx, "imp-1")
	assert.Error(t, err)
	assert.True(t, exception.IsConflict(err))
}

func TestImport_CancellingJobStopsAtFirstHook(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.storage.objects["import.ndjson"] = []byte(validImportDoc)

	record, err := h.jobs.Create(ctx, "imp-1", model.JobTypeImport, importRequest("import.ndjson"))
	assert.NoError(t, err)
	assert.NoError(t, h.jobs.Transition(ctx, record, model.JobStatusRunning))
	cancelled, err := h.jobs.Cancel(ctx, "imp-1")
	assert.NoError(t, err)
	assert.True(t, cancelled)

	assert.NoError(t, h.importExecutor().Run(ctx, "imp-1"))

	found, _ := h.jobs.Get(ctx, "imp-1")
	assert.Equal(t, model.JobStatusCancelled, found.Status)
	// No twin made it in before the first progress hook fired.
	twins, _ := h.graph.ListTwins(ctx, 0, 0)
	assert.Empty(t, twins)
}

func TestImport_ZeroCheckpointIntervalStillCheckpoints(t *testing.T) {
	h := newHarness()
	h.cfg.CheckpointInterval = 0
	ctx := context.Background()
	h.storage.objects["import.ndjson"] = []byte(validImportDoc)

	_, err := h.jobs.Create(ctx, "imp-1", model.JobTypeImport, importRequest("import.ndjson"))
	assert.NoError(t, err)

	assert.NoError(t, h.importExecutor().Run(ctx, "imp-1"))

	record, _ := h.jobs.Get(ctx, "imp-1")
	assert.Equal(t, model.JobStatusSucceeded, record.Status)
	assert.Equal(t, 2, record.TwinsCreated)
}

func TestDelete_EmptyGraphSucceedsWithZeroCounters(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	_, err := h.jobs.Create(ctx, "del-1", model.JobTypeDelete, nil)
	assert.NoError(t, err)

	assert.NoError(t, h.deleteExecutor().Run(ctx, "del-1"))

	record, _ := h.jobs.Get(ctx, "del-1")
	assert.Equal(t, model.JobStatusSucceeded, record.Status)
	assert.Equal(t, 0, record.ModelsDeleted)
	assert.Equal(t, 0, record.TwinsDeleted)
	assert.Equal(t, 0, record.RelationshipsDeleted)
}

func TestDelete_RemovesEverything(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	seedGraph(t, h.graph)

	_, err := h.jobs.Create(ctx, "del-1", model.JobTypeDelete, nil)
	assert.NoError(t, err)

	assert.NoError(t, h.deleteExecutor().Run(ctx, "del-1"))

	record, _ := h.jobs.Get(ctx, "del-1")
	assert.Equal(t, model.JobStatusSucceeded, record.Status)
	assert.Equal(t, 2, record.ModelsDeleted)
	assert.Equal(t, 2, record.TwinsDeleted)
	assert.Equal(t, 1, record.RelationshipsDeleted)

	models, _ := h.graph.ListModels(ctx, 0, 0)
	assert.Empty(t, models)
	twins, _ := h.graph.ListTwins(ctx, 0, 0)
	assert.Empty(t, twins)
	relationships, _ := h.graph.ListRelationships(ctx, 0, 0)
	assert.Empty(t, relationships)
}

func TestExport_ProducesImportableDocument(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	seedGraph(t, h.graph)

	_, err := h.jobs.Create(ctx, "exp-1", model.JobTypeExport, model.RequestData{
		executor.KeyStorageRef: "bulk",
		executor.KeyOutputPath: "export.ndjson",
	})
	assert.NoError(t, err)

	assert.NoError(t, h.exportExecutor().Run(ctx, "exp-1"))

	record, _ := h.jobs.Get(ctx, "exp-1")
	assert.Equal(t, model.JobStatusSucceeded, record.Status)
	assert.Equal(t, 2, record.ModelsExported)
	assert.Equal(t, 2, record.TwinsExported)
	assert.Equal(t, 1, record.RelationshipsExported)

	reader, err := h.storage.Download(ctx, "", "export.ndjson")
	assert.NoError(t, err)
	defer reader.Close()

	doc, err := executor.ParseImportDocument(reader, []string{"1"})
	assert.NoError(t, err)
	assert.Len(t, doc.Models, 2)
	assert.Len(t, doc.Twins, 2)
	assert.Len(t, doc.Relationships, 1)
	assert.Equal(t, executor.ExportFileVersion, doc.Header["fileVersion"])
}

func TestExport_ParquetRenditionIsWritten(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	seedGraph(t, h.graph)

	_, err := h.jobs.Create(ctx, "exp-1", model.JobTypeExport, model.RequestData{
		executor.KeyStorageRef:   "bulk",
		executor.KeyOutputPath:   "export.ndjson",
		executor.KeyOutputFormat: executor.OutputFormatParquet,
	})
	assert.NoError(t, err)

	assert.NoError(t, h.exportExecutor().Run(ctx, "exp-1"))

	assert.Contains(t, h.storage.objects, "export.ndjson")
	assert.Contains(t, h.storage.objects, "export.ndjson.parquet")
	assert.NotEmpty(t, h.storage.objects["export.ndjson.parquet"])
}

func TestExport_ResumedRunPollsCancellationWhileReListing(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	seedGraph(t, h.graph)

	record, err := h.jobs.Create(ctx, "exp-1", model.JobTypeExport, model.RequestData{
		executor.KeyStorageRef: "bulk",
		executor.KeyOutputPath: "export.ndjson",
	})
	assert.NoError(t, err)
	assert.NoError(t, h.jobs.Transition(ctx, record, model.JobStatusRunning))

	// A prior run already finished the models section before losing its lease.
	cp := model.NewCheckpoint("exp-1", model.JobTypeExport)
	cp.CompleteSection()
	assert.NoError(t, h.repo.SaveCheckpoint(ctx, cp))

	cancelled, err := h.jobs.Cancel(ctx, "exp-1")
	assert.NoError(t, err)
	assert.True(t, cancelled)

	assert.NoError(t, h.exportExecutor().Run(ctx, "exp-1"))

	// The poll fires while the completed section is re-listed, so the run
	// stops before the checkpointed section produces anything.
	found, _ := h.jobs.Get(ctx, "exp-1")
	assert.Equal(t, model.JobStatusCancelled, found.Status)
	assert.Equal(t, 0, found.TwinsExported)
}

func TestExport_MissingOutputPathFails(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	_, err := h.jobs.Create(ctx, "exp-1", model.JobTypeExport, model.RequestData{
		executor.KeyStorageRef: "bulk",
	})
	assert.NoError(t, err)

	err = h.exportExecutor().Run(ctx, "exp-1")
	assert.Error(t, err)

	record, _ := h.jobs.Get(ctx, "exp-1")
	assert.Equal(t, model.JobStatusFailed, record.Status)
}

func seedGraph(t *testing.T, store *graphinmemory.InMemoryGraphStore) {
	t.Helper()
	ctx := context.Background()
	assert.NoError(t, store.CreateOrReplaceModel(ctx, map[string]interface{}{"@id": "dtmi:example:Room;1"}))
	assert.NoError(t, store.CreateOrReplaceModel(ctx, map[string]interface{}{"@id": "dtmi:example:Floor;1"}))
	assert.NoError(t, store.CreateOrReplaceTwin(ctx, map[string]interface{}{
		"$dtId": "room1", "$metadata": map[string]interface{}{"$model": "dtmi:example:Room;1"},
	}))
	assert.NoError(t, store.CreateOrReplaceTwin(ctx, map[string]interface{}{
		"$dtId": "floor1", "$metadata": map[string]interface{}{"$model": "dtmi:example:Floor;1"},
	}))
	assert.NoError(t, store.CreateOrReplaceRelationship(ctx, map[string]interface{}{
		"$relationshipId": "rel1", "$relationshipName": "contains",
		"$sourceId": "floor1", "$targetId": "room1",
	}))
}
