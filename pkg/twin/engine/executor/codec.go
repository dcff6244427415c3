// Package executor implements the checkpointed bulk executors: import,
// delete and export. All three share one runner that owns the lock
// life cycle, the checkpoint cadence and the cooperative cancellation hook.
package executor

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	model "github.com/tigerroll/twinstore/pkg/twin/core/model"
	exception "github.com/tigerroll/twinstore/pkg/twin/support/util/exception"
)

const codecModule = "BulkDocumentCodec"

// Wire-format keys of the ND-JSON bulk document.
const (
	keySectionMarker = "Section"
	keyFileVersion   = "fileVersion"
)

// Document is the parsed form of a bulk import/export file: a header followed
// by the three data sections in dependency order.
type Document struct {
	Header        map[string]interface{}
	Models        []map[string]interface{}
	Twins         []map[string]interface{}
	Relationships []map[string]interface{}
}

// SectionItems returns the data lines of one section.
func (d *Document) SectionItems(section model.Section) []map[string]interface{} {
	switch section {
	case model.SectionModels:
		return d.Models
	case model.SectionTwins:
		return d.Twins
	case model.SectionRelationships:
		return d.Relationships
	default:
		return nil
	}
}

// majorVersion extracts the major component of a version string like "1.0.0".
func majorVersion(version string) string {
	if i := strings.IndexByte(version, '.'); i >= 0 {
		return version[:i]
	}
	return version
}

// ParseImportDocument reads an ND-JSON bulk document. The file must open with
// a Header section declaring a supported format version, and sections must
// appear in import order; violations are validation errors raised before any
// mutation happens.
func ParseImportDocument(r io.Reader, supportedVersions []string) (*Document, error) {
	importOrder := model.SectionOrder(model.JobTypeImport)

	doc := &Document{}
	var current model.Section
	currentIdx := -1
	lineNo := 0

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var obj map[string]interface{}
		if err := json.Unmarshal(line, &obj); err != nil {
			return nil, exception.NewValidationError(codecModule,
				fmt.Sprintf("line %d is not a JSON object", lineNo), err)
		}

		if name, ok := obj[keySectionMarker].(string); ok && len(obj) == 1 {
			section := model.Section(name)
			idx := model.SectionIndex(model.JobTypeImport, section)
			if idx < 0 || section == model.SectionCompleted {
				return nil, exception.NewValidationError(codecModule,
					fmt.Sprintf("line %d declares unknown section '%s'", lineNo, name), nil)
			}
			if idx <= currentIdx {
				return nil, exception.NewValidationError(codecModule,
					fmt.Sprintf("section '%s' at line %d is out of order (after '%s')", name, lineNo, current), nil)
			}
			if currentIdx < 0 && section != importOrder[0] {
				return nil, exception.NewValidationError(codecModule,
					fmt.Sprintf("document must begin with a '%s' section, found '%s'", importOrder[0], name), nil)
			}
			current, currentIdx = section, idx
			continue
		}

		switch current {
		case model.SectionHeader:
			if doc.Header != nil {
				return nil, exception.NewValidationError(codecModule,
					fmt.Sprintf("line %d: header section holds more than one line", lineNo), nil)
			}
			doc.Header = obj
		case model.SectionModels:
			doc.Models = append(doc.Models, obj)
		case model.SectionTwins:
			doc.Twins = append(doc.Twins, obj)
		case model.SectionRelationships:
			doc.Relationships = append(doc.Relationships, obj)
		default:
			return nil, exception.NewValidationError(codecModule,
				fmt.Sprintf("line %d appears before any section marker", lineNo), nil)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, exception.NewInfrastructureError(codecModule, "failed to read bulk document", err)
	}

	if doc.Header == nil {
		return nil, exception.NewValidationError(codecModule, "document carries no header line", nil)
	}
	version, _ := doc.Header[keyFileVersion].(string)
	if version == "" {
		return nil, exception.NewValidationError(codecModule,
			fmt.Sprintf("header is missing '%s'", keyFileVersion), nil)
	}
	major := majorVersion(version)
	for _, v := range supportedVersions {
		if v == major {
			return doc, nil
		}
	}
	return nil, exception.NewValidationError(codecModule,
		fmt.Sprintf("file format version '%s' is not supported", version), nil)
}

func writeSection(w *bufio.Writer, section model.Section, items []map[string]interface{}) error {
	marker, err := json.Marshal(map[string]string{keySectionMarker: section.String()})
	if err != nil {
		return err
	}
	if _, err := w.Write(append(marker, '\n')); err != nil {
		return err
	}
	for _, item := range items {
		line, err := json.Marshal(item)
		if err != nil {
			return err
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return err
		}
	}
	return nil
}

// WriteExportDocument serializes a document back to the ND-JSON wire format,
// sections in import order so an exported file is directly importable.
func WriteExportDocument(w io.Writer, doc *Document) error {
	bw := bufio.NewWriter(w)
	if err := writeSection(bw, model.SectionHeader, []map[string]interface{}{doc.Header}); err != nil {
		return exception.NewInfrastructureError(codecModule, "failed to write export header", err)
	}
	for _, section := range []model.Section{model.SectionModels, model.SectionTwins, model.SectionRelationships} {
		if err := writeSection(bw, section, doc.SectionItems(section)); err != nil {
			return exception.NewInfrastructureError(codecModule,
				fmt.Sprintf("failed to write export section '%s'", section), err)
		}
	}
	if err := bw.Flush(); err != nil {
		return exception.NewInfrastructureError(codecModule, "failed to flush export document", err)
	}
	return nil
}
