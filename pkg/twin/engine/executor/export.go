package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/writer"

	storage "github.com/tigerroll/twinstore/pkg/twin/adapter/storage"
	config "github.com/tigerroll/twinstore/pkg/twin/core/config"
	metrics "github.com/tigerroll/twinstore/pkg/twin/core/metrics"
	model "github.com/tigerroll/twinstore/pkg/twin/core/model"
	repository "github.com/tigerroll/twinstore/pkg/twin/core/repository"
	job "github.com/tigerroll/twinstore/pkg/twin/engine/job"
	lock "github.com/tigerroll/twinstore/pkg/twin/engine/lock"
	graph "github.com/tigerroll/twinstore/pkg/twin/graph"
	exception "github.com/tigerroll/twinstore/pkg/twin/support/util/exception"
	logger "github.com/tigerroll/twinstore/pkg/twin/support/util/logger"
)

const exportModule = "ExportExecutor"

// ExportFileVersion is the format version stamped on export headers.
const ExportFileVersion = "1.0.0"

// OutputFormatParquet requests an additional parquet rendition of the twins
// section next to the ND-JSON document.
const OutputFormatParquet = "parquet"

// ExportExecutor walks the whole graph and writes an ND-JSON document that is
// directly importable. The document is assembled in memory and uploaded once,
// so a resumed run re-lists from the start; the checkpoint still drives the
// heartbeat/cancellation cadence.
type ExportExecutor struct {
	runner
	store    graph.GraphStore
	storages storage.StorageConnectionResolver
}

// NewExportExecutor wires the export executor.
func NewExportExecutor(jobs *job.Service, repo repository.JobRepository, locks *lock.Manager,
	store graph.GraphStore, storages storage.StorageConnectionResolver,
	recorder metrics.MetricRecorder, tracer metrics.Tracer, cfg *config.JobsConfig) *ExportExecutor {
	return &ExportExecutor{
		runner:   newRunner(jobs, repo, locks, recorder, tracer, cfg),
		store:    store,
		storages: storages,
	}
}

func (e *ExportExecutor) listBatch(ctx context.Context, section model.Section, offset, limit int) ([]map[string]interface{}, error) {
	switch section {
	case model.SectionModels:
		return e.store.ListModels(ctx, offset, limit)
	case model.SectionTwins:
		return e.store.ListTwins(ctx, offset, limit)
	case model.SectionRelationships:
		return e.store.ListRelationships(ctx, offset, limit)
	default:
		return nil, nil
	}
}

func (e *ExportExecutor) countBatch(record *model.JobRecord, section model.Section, n int) {
	switch section {
	case model.SectionModels:
		record.ModelsExported += n
	case model.SectionTwins:
		record.TwinsExported += n
	case model.SectionRelationships:
		record.RelationshipsExported += n
	}
}

func appendSection(doc *Document, section model.Section, items []map[string]interface{}) {
	switch section {
	case model.SectionModels:
		doc.Models = append(doc.Models, items...)
	case model.SectionTwins:
		doc.Twins = append(doc.Twins, items...)
	case model.SectionRelationships:
		doc.Relationships = append(doc.Relationships, items...)
	}
}

// Run executes an export job. A failed lock acquisition is a silent no-op.
func (e *ExportExecutor) Run(ctx context.Context, jobID string) error {
	record, cp, owned, err := e.begin(ctx, jobID, model.JobTypeExport)
	if err != nil || !owned {
		return err
	}
	defer e.locks.Release(ctx, jobID)

	ctx, endSpan := e.tracer.StartSpan(ctx, "job.export", map[string]string{"job.id": jobID})
	var runErr error
	defer func() { endSpan(runErr) }()

	storageRef, ok := record.RequestData.GetString(KeyStorageRef)
	if !ok {
		runErr = e.fail(ctx, record, exception.NewValidationError(exportModule, "request is missing the storage reference", nil))
		return runErr
	}
	outputPath, ok := record.RequestData.GetString(KeyOutputPath)
	if !ok {
		runErr = e.fail(ctx, record, exception.NewValidationError(exportModule, "request is missing the output path", nil))
		return runErr
	}
	conn, err := e.storages.ResolveStorageConnection(ctx, storageRef)
	if err != nil {
		runErr = e.fail(ctx, record, exception.NewInfrastructureError(exportModule,
			fmt.Sprintf("failed to resolve storage '%s'", storageRef), err))
		return runErr
	}

	doc := &Document{Header: map[string]interface{}{
		keyFileVersion: ExportFileVersion,
		"exportedAt":   time.Now().UTC().Format(time.RFC3339),
	}}

	for _, section := range []model.Section{model.SectionModels, model.SectionTwins, model.SectionRelationships} {
		offset := 0
		for {
			items, err := e.listBatch(ctx, section, offset, e.cfg.BatchSize)
			if err != nil {
				runErr = e.fail(ctx, record, err)
				return runErr
			}
			if len(items) == 0 {
				break
			}
			appendSection(doc, section, items)
			e.countBatch(record, section, len(items))
			offset += len(items)

			// A resumed run re-lists everything, so progress only moves the
			// checkpoint forward once it reaches the persisted position. The
			// heartbeat and cancellation poll still run while re-reading
			// earlier sections, keeping the lease alive on large graphs.
			if cp.CurrentSection == section {
				cp.RecordItems(len(items))
			}
			if sig := e.tick(ctx, record, cp); sig != SignalContinue {
				runErr = e.handleSignal(ctx, record, cp, sig)
				return runErr
			}
			if len(items) < e.cfg.BatchSize {
				break
			}
		}
		if cp.CurrentSection == section {
			cp.CompleteSection()
			if sig := e.tick(ctx, record, cp); sig != SignalContinue {
				runErr = e.handleSignal(ctx, record, cp, sig)
				return runErr
			}
		}
	}

	var out bytes.Buffer
	if err := WriteExportDocument(&out, doc); err != nil {
		runErr = e.fail(ctx, record, err)
		return runErr
	}
	if err := conn.Upload(ctx, "", outputPath, &out, "application/x-ndjson"); err != nil {
		runErr = e.fail(ctx, record, exception.NewInfrastructureError(exportModule,
			fmt.Sprintf("failed to upload export to '%s'", outputPath), err))
		return runErr
	}

	if format, _ := record.RequestData.GetString(KeyOutputFormat); format == OutputFormatParquet {
		if err := e.uploadTwinsParquet(ctx, conn, outputPath+".parquet", doc.Twins); err != nil {
			runErr = e.fail(ctx, record, err)
			return runErr
		}
	}

	logger.Infof("%s: job '%s' exported %d models, %d twins, %d relationships to '%s'.",
		exportModule, jobID, record.ModelsExported, record.TwinsExported, record.RelationshipsExported, outputPath)
	runErr = e.finish(ctx, record, cp, nil)
	return runErr
}

// twinParquetRow is the columnar rendition of one twin: its ids plus the full
// document as JSON, which keeps the schema stable across models.
type twinParquetRow struct {
	TwinID   string `parquet:"name=twin_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	ModelID  string `parquet:"name=model_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Document string `parquet:"name=document, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func (e *ExportExecutor) uploadTwinsParquet(ctx context.Context, conn storage.StorageConnection, objectName string, twins []map[string]interface{}) error {
	fw := buffer.NewBufferFile()
	pw, err := writer.NewParquetWriter(fw, new(twinParquetRow), 2)
	if err != nil {
		return exception.NewInfrastructureError(exportModule, "failed to create parquet writer", err)
	}

	for _, twin := range twins {
		document, err := json.Marshal(twin)
		if err != nil {
			return exception.NewInfrastructureError(exportModule, "failed to serialize twin for parquet", err)
		}
		twinID, _ := twin[graph.KeyTwinID].(string)
		var modelID string
		if meta, ok := twin[graph.KeyMetadata].(map[string]interface{}); ok {
			modelID, _ = meta[graph.KeyModel].(string)
		}
		row := twinParquetRow{TwinID: twinID, ModelID: modelID, Document: string(document)}
		if err := pw.Write(row); err != nil {
			return exception.NewInfrastructureError(exportModule, "failed to write parquet row", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return exception.NewInfrastructureError(exportModule, "failed to finalize parquet file", err)
	}

	if err := conn.Upload(ctx, "", objectName, bytes.NewReader(fw.Bytes()), "application/vnd.apache.parquet"); err != nil {
		return exception.NewInfrastructureError(exportModule,
			fmt.Sprintf("failed to upload parquet export to '%s'", objectName), err)
	}
	return nil
}
